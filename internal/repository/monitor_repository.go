package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
)

// MonitorRepository serves the aggregate reads behind the live monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// StatusCounts returns how many sessions of the assessment sit in each status.
func (r *MonitorRepository) StatusCounts(ctx context.Context, assessmentID uuid.UUID) (map[model.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*)
		 FROM student_assessment_sessions
		 WHERE assessment_id = $1
		 GROUP BY status`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var (
			status model.SessionStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// AnsweredCounts returns the number of stored answers per session.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.session_id, COUNT(*)
		 FROM answer_records a
		 JOIN student_assessment_sessions s ON s.id = a.session_id
		 WHERE s.assessment_id = $1
		 GROUP BY a.session_id`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			id uuid.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// RecentViolations returns the newest violation events across the assessment.
func (r *MonitorRepository) RecentViolations(ctx context.Context, assessmentID uuid.UUID, limit int) ([]model.MonitoringEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.session_id, e.event_type, e.payload, e.ip_address, e.user_agent, e.occurred_at
		 FROM monitoring_events e
		 JOIN student_assessment_sessions s ON s.id = e.session_id
		 WHERE s.assessment_id = $1
		   AND e.event_type IN ('face_not_detected', 'camera_access_denied', 'tab_switch', 'copy_paste')
		 ORDER BY e.occurred_at DESC
		 LIMIT $2`,
		assessmentID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MonitoringEvent, error) {
		var (
			ev      model.MonitoringEvent
			payload []byte
		)
		err := row.Scan(&ev.ID, &ev.SessionID, &ev.Type, &payload, &ev.IPAddress, &ev.UserAgent, &ev.OccurredAt)
		ev.Payload = payload
		return ev, err
	})
}
