package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// MonitorRepository reads the proctor roster of an exam.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListInProgress returns every session of the exam that is still in progress.
// Answers and counters lag the live state by at most one sync interval.
func (r *MonitorRepository) ListInProgress(ctx context.Context, examID uuid.UUID) ([]model.RosterEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, session_number, is_ranked, tab_switch_count, created_at, last_active_at
		 FROM exam_sessions
		 WHERE exam_id = $1 AND status = 'IN_PROGRESS'
		 ORDER BY created_at`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RosterEntry
	for rows.Next() {
		var e model.RosterEntry
		if err := rows.Scan(&e.SessionID, &e.StudentID, &e.SessionNumber, &e.IsRanked,
			&e.TabSwitchCount, &e.StartedAt, &e.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountSubmitted returns the number of graded attempts of the exam.
func (r *MonitorRepository) CountSubmitted(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions WHERE exam_id = $1 AND status = 'SUBMITTED'`,
		examID,
	).Scan(&n)
	return n, err
}

// GetViolationCounts returns the number of violations recorded for each student in the given exam.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM session_violations
		 WHERE exam_id = $1
		 GROUP BY student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}

	return counts, rows.Err()
}
