package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ResultWorker maintains the per-student best score. Every graded attempt is
// already stored by the session service; this only folds results into the
// submissions table.
type ResultWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewResultWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")
	consume(ctx, w.rdb, config.WorkerKey.PersistResultsQueue, w.log, w.flushSafe)
	w.log.Info().Msg("ResultWorker stopped")
}

func (w *ResultWorker) flushSafe(ctx context.Context, batch []model.ResultJob) {
	best := collapseResults(batch)

	if err := w.bulkUpsert(ctx, best); err != nil {
		w.log.Warn().Err(err).Int("count", len(best)).Msg("Bulk best-score upsert failed, using fallback")

		var failed []model.ResultJob
		for _, r := range best {
			if err := w.bulkUpsert(ctx, []model.ResultJob{r}); err != nil {
				w.log.Error().Err(err).
					Str("session_id", r.SessionID.String()).
					Msg("Best-score upsert failed, requeueing")
				failed = append(failed, r)
			}
		}
		if len(failed) > 0 {
			if err := requeue(ctx, w.rdb, config.WorkerKey.PersistResultsQueue, failed); err != nil {
				w.log.Error().Err(err).Int("count", len(failed)).Msg("CRITICAL: Failed to requeue results")
			}
		}
	}
}

type submissionKey struct {
	examID    uuid.UUID
	studentID int
}

// collapseResults keeps the best-scoring job per (exam, student), so a batch
// never touches the same submissions row twice. Ties keep the earlier attempt.
func collapseResults(batch []model.ResultJob) []model.ResultJob {
	index := make(map[submissionKey]int, len(batch))
	out := make([]model.ResultJob, 0, len(batch))

	for _, r := range batch {
		k := submissionKey{examID: r.ExamID, studentID: r.StudentID}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		cur := out[i]
		if r.Score > cur.Score || (r.Score == cur.Score && r.GradedAt.Before(cur.GradedAt)) {
			out[i] = r
		}
	}
	return out
}

// bulkUpsert folds the batch into submissions using UNNEST. attempts is
// recounted from graded_results so a requeued job cannot inflate it.
func (w *ResultWorker) bulkUpsert(ctx context.Context, batch []model.ResultJob) error {
	if len(batch) == 0 {
		return nil
	}
	n := len(batch)
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	sessions := make([]uuid.UUID, 0, n)
	scores := make([]float64, 0, n)
	gradedAts := make([]time.Time, 0, n)

	for _, r := range batch {
		examIDs = append(examIDs, r.ExamID)
		students = append(students, r.StudentID)
		sessions = append(sessions, r.SessionID)
		scores = append(scores, r.Score)
		gradedAts = append(gradedAts, r.GradedAt)
	}

	query := `
		INSERT INTO submissions AS s (exam_id, student_id, best_score, best_session_id, attempts, updated_at)
		SELECT
			u.exam_id,
			u.student_id,
			u.score,
			u.session_id,
			GREATEST(1, (SELECT COUNT(*) FROM graded_results g
			             WHERE g.exam_id = u.exam_id AND g.student_id = u.student_id)),
			u.graded_at
		FROM UNNEST(
			$1::uuid[],
			$2::int[],
			$3::uuid[],
			$4::float8[],
			$5::timestamptz[]
		) AS u (exam_id, student_id, session_id, score, graded_at)
		ON CONFLICT (exam_id, student_id) DO UPDATE
		SET best_score      = GREATEST(s.best_score, EXCLUDED.best_score),
		    best_session_id = CASE WHEN EXCLUDED.best_score > s.best_score
		                           THEN EXCLUDED.best_session_id
		                           ELSE s.best_session_id END,
		    attempts        = EXCLUDED.attempts,
		    updated_at      = NOW()
	`

	_, err := w.pool.Exec(ctx, query, examIDs, students, sessions, scores, gradedAts)
	return err
}
