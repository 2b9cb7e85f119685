package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ErrActiveSessionExists is returned by CreateSession when the student already
// has an attempt in progress for the exam.
var ErrActiveSessionExists = errors.New("an in-progress session already exists")

const uniqueViolation = "23505"

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, student_id, session_number, is_ranked, status,
	answers_snapshot, tab_switch_count, last_active_at, created_at`

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var snapshot []byte
	if err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.SessionNumber, &s.IsRanked, &s.Status,
		&snapshot, &s.TabSwitchCount, &s.LastActiveAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &s.AnswersSnapshot); err != nil {
			return nil, fmt.Errorf("decode answers snapshot: %w", err)
		}
	}
	return s, nil
}

// LoadActiveSession returns the in-progress session of a student, or nil when there is none.
func (r *ExamSessionRepository) LoadActiveSession(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2 AND status = $3`,
		examID, studentID, model.SessionStatusInProgress,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSession inserts a new in-progress session and fills in its id and timestamps.
func (r *ExamSessionRepository) CreateSession(ctx context.Context, s *model.ExamSession) error {
	snapshot, err := json.Marshal(s.AnswersSnapshot)
	if err != nil {
		return fmt.Errorf("encode answers snapshot: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, session_number, is_ranked, status, answers_snapshot, tab_switch_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, last_active_at`,
		s.ExamID, s.StudentID, s.SessionNumber, s.IsRanked, model.SessionStatusInProgress, snapshot, s.TabSwitchCount,
	).Scan(&s.ID, &s.CreatedAt, &s.LastActiveAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrActiveSessionExists
		}
		return err
	}
	s.Status = model.SessionStatusInProgress
	return nil
}

// UpdateSessionSnapshot pushes the latest answers and counters. Sessions that
// already left IN_PROGRESS are not touched.
func (r *ExamSessionRepository) UpdateSessionSnapshot(ctx context.Context, u model.SnapshotUpdate) error {
	snapshot, err := json.Marshal(u.Answers)
	if err != nil {
		return fmt.Errorf("encode answers snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET answers_snapshot = $1, tab_switch_count = GREATEST(tab_switch_count, $2), last_active_at = $3
		 WHERE id = $4 AND status = $5`,
		snapshot, u.TabSwitchCount, u.LastActiveAt, u.SessionID, model.SessionStatusInProgress)
	return err
}

// MarkStatus moves an in-progress session to status. isRanked can only clear
// the flag, never set it back. Submitted and abandoned sessions are terminal,
// so they are never matched.
func (r *ExamSessionRepository) MarkStatus(ctx context.Context, sessionID uuid.UUID, status model.SessionStatus, isRanked bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, is_ranked = is_ranked AND $2, last_active_at = NOW()
		 WHERE id = $3 AND status = $4`,
		status, isRanked, sessionID, model.SessionStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DemoteSession clears is_ranked while the session is in progress. A session
// that closed meanwhile keeps the flag its final save wrote.
func (r *ExamSessionRepository) DemoteSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET is_ranked = false
		 WHERE id = $1 AND status = $2`,
		sessionID, model.SessionStatusInProgress)
	return err
}

// CountPastSessions counts every session of a student for an exam, and the
// ones that were not abandoned.
func (r *ExamSessionRepository) CountPastSessions(ctx context.Context, examID uuid.UUID, studentID int) (model.SessionCounts, error) {
	var c model.SessionCounts
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status <> $3)
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID, model.SessionStatusAbandoned,
	).Scan(&c.Total, &c.NonAbandoned)
	return c, err
}

// SaveGradedResult stores the result and closes the session in one
// transaction. Saving the same session twice keeps the first result.
func (r *ExamSessionRepository) SaveGradedResult(ctx context.Context, s model.ExamSession, res *model.GradedResult) error {
	breakdown, err := json.Marshal(res.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	snapshot, err := json.Marshal(s.AnswersSnapshot)
	if err != nil {
		return fmt.Errorf("encode answers snapshot: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO graded_results (session_id, exam_id, student_id, score, correct_count, total_questions,
		                             breakdown, time_spent_seconds, tab_switches, forced_submit, reason, is_ranked, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (session_id) DO NOTHING`,
		res.SessionID, s.ExamID, s.StudentID, res.Score, res.CorrectCount, res.TotalQuestions,
		breakdown, res.TimeSpentSeconds, res.CheatFlags.TabSwitches, res.CheatFlags.ForcedSubmit,
		res.Reason, res.IsRanked, res.GradedAt,
	); err != nil {
		return fmt.Errorf("insert graded result: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, is_ranked = is_ranked AND $2, answers_snapshot = $3,
		     tab_switch_count = GREATEST(tab_switch_count, $4), last_active_at = NOW()
		 WHERE id = $5 AND status = $6`,
		model.SessionStatusSubmitted, s.IsRanked, snapshot, s.TabSwitchCount, s.ID, model.SessionStatusInProgress,
	); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	return tx.Commit(ctx)
}

// ListResults returns every graded attempt of a student for an exam, oldest first.
func (r *ExamSessionRepository) ListResults(ctx context.Context, examID uuid.UUID, studentID int) ([]model.GradedResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, score, correct_count, total_questions, breakdown, time_spent_seconds,
		        tab_switches, forced_submit, reason, is_ranked, graded_at
		 FROM graded_results
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY graded_at ASC`, examID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.GradedResult
	for rows.Next() {
		var res model.GradedResult
		var breakdown []byte
		if err := rows.Scan(&res.SessionID, &res.Score, &res.CorrectCount, &res.TotalQuestions, &breakdown,
			&res.TimeSpentSeconds, &res.CheatFlags.TabSwitches, &res.CheatFlags.ForcedSubmit,
			&res.Reason, &res.IsRanked, &res.GradedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(breakdown, &res.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// GetSubmission returns the best graded attempt of a student, or nil when none was graded yet.
func (r *ExamSessionRepository) GetSubmission(ctx context.Context, examID uuid.UUID, studentID int) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT exam_id, student_id, best_score, best_session_id, attempts, updated_at
		 FROM submissions WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&s.ExamID, &s.StudentID, &s.BestScore, &s.BestSessionID, &s.Attempts, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
