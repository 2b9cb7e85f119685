package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ViolationWorker persists the anti-cheat audit trail. Violations are queued
// by the session service and copied into session_violations in batches.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	consume(ctx, w.rdb, config.WorkerKey.PersistViolationsQueue, w.log, w.flushSafe)
	w.log.Info().Msg("ViolationWorker stopped")
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationJob) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func violationRows(batch []model.ViolationJob) [][]any {
	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []any{v.SessionID, v.ExamID, v.StudentID, string(v.Type), v.Count, v.OccurredAt})
	}
	return rows
}

var violationColumns = []string{"session_id", "exam_id", "student_id", "type", "count", "occurred_at"}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []model.ViolationJob) error {
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"session_violations"},
		violationColumns,
		pgx.CopyFromRows(violationRows(batch)),
	)
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []model.ViolationJob) {
	var failed []model.ViolationJob

	for _, v := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO session_violations (session_id, exam_id, student_id, type, count, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			v.SessionID, v.ExamID, v.StudentID, string(v.Type), v.Count, v.OccurredAt,
		)
		if err != nil {
			w.log.Error().Err(err).
				Str("session_id", v.SessionID.String()).
				Int("student_id", v.StudentID).
				Msg("Insert failed, requeueing")
			failed = append(failed, v)
		}
	}

	if len(failed) == 0 {
		return
	}
	if err := requeue(ctx, w.rdb, config.WorkerKey.PersistViolationsQueue, failed); err != nil {
		w.log.Error().Err(err).Int("count", len(failed)).Msg("CRITICAL: Failed to requeue violations. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(failed)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleep(ctx, 2*time.Second)
}
