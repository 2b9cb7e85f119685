package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ExamRepository stores exam definitions and answer keys.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetDefinition loads the answer-free definition of an exam.
func (r *ExamRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	d := &model.ExamDefinition{}
	var demotion, maxViolations *int
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_seconds, max_attempts, starts_at, ends_at,
		        demotion_threshold, max_violations
		 FROM exams WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.DurationSeconds, &d.MaxAttempts, &d.StartsAt, &d.EndsAt,
		&demotion, &maxViolations)
	if err != nil {
		return nil, err
	}
	if demotion != nil || maxViolations != nil {
		d.Policy = &model.Policy{}
		if demotion != nil {
			d.Policy.DemotionThreshold = *demotion
		}
		if maxViolations != nil {
			d.Policy.MaxViolations = *maxViolations
		}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT kind, idx FROM exam_questions WHERE exam_id = $1 ORDER BY kind, idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind model.QuestionKind
		var slot model.QuestionSlot
		if err := rows.Scan(&kind, &slot.Index); err != nil {
			return nil, err
		}
		switch kind {
		case model.QuestionKindMC:
			d.MCQuestions = append(d.MCQuestions, slot)
		case model.QuestionKindTF:
			d.TFQuestions = append(d.TFQuestions, slot)
		case model.QuestionKindSA:
			d.SAQuestions = append(d.SAQuestions, slot)
		}
	}
	return d, rows.Err()
}

// GetAnswerKey loads the server-only answer key of an exam.
func (r *ExamRepository) GetAnswerKey(ctx context.Context, id uuid.UUID) (*model.AnswerKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT kind, idx, answer_key FROM exam_questions WHERE exam_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := &model.AnswerKey{
		MC: map[int]string{},
		TF: map[int]model.TFKey{},
		SA: map[int]model.KeyValue{},
	}
	for rows.Next() {
		var kind model.QuestionKind
		var idx int
		var raw []byte
		if err := rows.Scan(&kind, &idx, &raw); err != nil {
			return nil, err
		}
		if err := decodeKey(key, kind, idx, raw); err != nil {
			return nil, fmt.Errorf("exam %s %s[%d]: %w", id, kind, idx, err)
		}
	}
	return key, rows.Err()
}

func decodeKey(key *model.AnswerKey, kind model.QuestionKind, idx int, raw []byte) error {
	switch kind {
	case model.QuestionKindMC:
		var letter string
		if err := json.Unmarshal(raw, &letter); err != nil {
			return err
		}
		key.MC[idx] = letter
	case model.QuestionKindTF:
		var tf model.TFKey
		if err := json.Unmarshal(raw, &tf); err != nil {
			return err
		}
		key.TF[idx] = tf
	case model.QuestionKindSA:
		var v model.KeyValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		key.SA[idx] = v
	default:
		return fmt.Errorf("unknown question kind %q", kind)
	}
	return nil
}

// ListOpen returns the ids of exams whose window contains now or is unbounded.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListOpen(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams
		 WHERE (starts_at IS NULL OR starts_at <= $1)
		   AND (ends_at IS NULL OR ends_at >= $1)
		 ORDER BY created_at DESC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateExam inserts an exam with its questions and answer key in one
// transaction and sets def.ID. Indexes come from the definition slots.
func (r *ExamRepository) CreateExam(ctx context.Context, def *model.ExamDefinition, key *model.AnswerKey) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var demotion, maxViolations *int
	if def.Policy != nil {
		demotion, maxViolations = &def.Policy.DemotionThreshold, &def.Policy.MaxViolations
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO exams (title, duration_seconds, max_attempts, starts_at, ends_at,
		                    demotion_threshold, max_violations)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		def.Title, def.DurationSeconds, def.MaxAttempts, def.StartsAt, def.EndsAt,
		demotion, maxViolations,
	).Scan(&def.ID)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}

	batch := &pgx.Batch{}
	queue := func(kind model.QuestionKind, idx int, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", kind, idx, err)
		}
		batch.Queue(
			`INSERT INTO exam_questions (exam_id, kind, idx, answer_key) VALUES ($1, $2, $3, $4)`,
			def.ID, kind, idx, raw,
		)
		return nil
	}
	for _, q := range def.MCQuestions {
		if err := queue(model.QuestionKindMC, q.Index, key.MC[q.Index]); err != nil {
			return err
		}
	}
	for _, q := range def.TFQuestions {
		if err := queue(model.QuestionKindTF, q.Index, key.TF[q.Index]); err != nil {
			return err
		}
	}
	for _, q := range def.SAQuestions {
		if err := queue(model.QuestionKindSA, q.Index, string(key.SA[q.Index])); err != nil {
			return err
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	return tx.Commit(ctx)
}
