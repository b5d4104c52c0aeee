package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/session"
)

const sessionColumns = `id, assessment_id, student_id, status, enrolled_at, started_at, submitted_at,
	evaluated_at, COALESCE(submit_reason, ''), time_spent_seconds, current_section, current_question,
	position_entered_at, time_usage, face_detection_violations, tab_switch_count, copy_paste_attempts,
	total_score, percentage, pending_review, breakdown`

var counterColumns = map[model.Counter]string{
	model.CounterFace:      "face_detection_violations",
	model.CounterTabSwitch: "tab_switch_count",
	model.CounterCopyPaste: "copy_paste_attempts",
}

// SessionRepository is the PostgreSQL session.Store.
type SessionRepository struct {
	pool        *pgxpool.Pool
	assessments *AssessmentRepository
}

var _ session.Store = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool, assessments *AssessmentRepository) *SessionRepository {
	return &SessionRepository{pool: pool, assessments: assessments}
}

func (r *SessionRepository) GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return r.assessments.GetByID(ctx, id)
}

// CreateSession relies on the (assessment_id, student_id) unique key; a
// conflicting insert returns no row and the existing session is read instead.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.Session) (*model.Session, bool, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO student_assessment_sessions (id, assessment_id, student_id, status, enrolled_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (assessment_id, student_id) DO NOTHING
		 RETURNING id`,
		s.ID, s.AssessmentID, s.StudentID, model.SessionEnrolled, s.EnrolledAt,
	).Scan(&id)
	if err == nil {
		created, err := r.GetSession(ctx, id)
		return created, true, err
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.GetSessionByOwner(ctx, s.AssessmentID, s.StudentID)
	return existing, false, err
}

func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM student_assessment_sessions WHERE id = $1`, id))
	return s, notFound(err)
}

func (r *SessionRepository) GetSessionByOwner(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM student_assessment_sessions
		 WHERE assessment_id = $1 AND student_id = $2`, assessmentID, studentID))
	return s, notFound(err)
}

func (r *SessionRepository) ListStartedSessions(ctx context.Context) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM student_assessment_sessions WHERE status = $1`, model.SessionStarted)
}

// ListByAssessment returns every session of an assessment for the teacher view.
func (r *SessionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM student_assessment_sessions
		 WHERE assessment_id = $1 ORDER BY student_id`, assessmentID)
}

// ListUngraded returns submitted sessions whose submission is older than before.
func (r *SessionRepository) ListUngraded(ctx context.Context, before time.Time) ([]model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM student_assessment_sessions
		 WHERE status = $1 AND submitted_at < $2
		 ORDER BY submitted_at LIMIT 500`, model.SessionSubmitted, before)
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Session, error) {
		s, err := scanSession(row)
		if err != nil {
			return model.Session{}, err
		}
		return *s, nil
	})
}

func (r *SessionRepository) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_assessment_sessions
		 SET status = $2, started_at = $3, current_section = 1, current_question = 1,
		     position_entered_at = $3, time_usage = '{}'::jsonb
		 WHERE id = $1 AND status = $4`,
		id, model.SessionStarted, at, model.SessionEnrolled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) MarkSubmitted(ctx context.Context, sub session.Submission) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_assessment_sessions
		 SET status = $2, submitted_at = $3, submit_reason = $4, time_spent_seconds = GREATEST(time_spent_seconds, $5)
		 WHERE id = $1 AND status = $6`,
		sub.SessionID, model.SessionSubmitted, sub.SubmittedAt, sub.Reason, sub.TimeSpentSeconds, model.SessionStarted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) MarkEvaluated(ctx context.Context, ev session.Evaluation) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_assessment_sessions
		 SET status = $2, evaluated_at = $3, total_score = $4, percentage = $5, pending_review = $6, breakdown = $7
		 WHERE id = $1 AND status = $8`,
		ev.SessionID, model.SessionEvaluated, ev.EvaluatedAt, ev.Breakdown.TotalScore, ev.Breakdown.Percentage,
		ev.Breakdown.PendingReview, ev.Breakdown, model.SessionSubmitted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) SavePosition(ctx context.Context, id uuid.UUID, pos session.Position) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE student_assessment_sessions
		 SET current_section = $2, current_question = $3, position_entered_at = $4, time_usage = $5
		 WHERE id = $1 AND status = $6`,
		id, pos.Section, pos.Question, pos.EnteredAt, pos.Usage, model.SessionStarted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// UpsertAnswer writes only while the session is started and never lets an
// older client timestamp overwrite a newer one.
func (r *SessionRepository) UpsertAnswer(ctx context.Context, rec model.AnswerRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO answer_records (session_id, question_id, value, client_timestamp, updated_at)
		 SELECT $1::uuid, $2::uuid, $3::jsonb, $4::timestamptz, $5::timestamptz
		 WHERE EXISTS (
		     SELECT 1 FROM student_assessment_sessions WHERE id = $1::uuid AND status = 'started'
		 )
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET value = EXCLUDED.value, client_timestamp = EXCLUDED.client_timestamp, updated_at = EXCLUDED.updated_at
		 WHERE answer_records.client_timestamp <= EXCLUDED.client_timestamp`,
		rec.SessionID, rec.QuestionID, rec.Value, rec.ClientTimestamp, rec.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, value, client_timestamp, updated_at, manual_score, reviewed_by
		 FROM answer_records WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AnswerRecord, error) {
		var rec model.AnswerRecord
		err := row.Scan(&rec.SessionID, &rec.QuestionID, &rec.Value, &rec.ClientTimestamp,
			&rec.UpdatedAt, &rec.ManualScore, &rec.ReviewedBy)
		return rec, err
	})
}

// SaveReview stores the reviewer's score and, for evaluated sessions, the
// recomputed totals in the same transaction.
func (r *SessionRepository) SaveReview(ctx context.Context, rv session.Review) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE answer_records SET manual_score = $3, reviewed_by = $4
			 WHERE session_id = $1 AND question_id = $2`,
			rv.SessionID, rv.QuestionID, rv.Score, rv.ReviewerID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return session.ErrNotFound
		}
		if rv.Breakdown == nil {
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE student_assessment_sessions
			 SET total_score = $2, percentage = $3, pending_review = $4, breakdown = $5
			 WHERE id = $1 AND status = $6`,
			rv.SessionID, rv.Breakdown.TotalScore, rv.Breakdown.Percentage, rv.Breakdown.PendingReview,
			rv.Breakdown, model.SessionEvaluated)
		return err
	})
}

// AppendEvent inserts the event and bumps its counter atomically. Replaying
// an already stored event id changes nothing.
func (r *SessionRepository) AppendEvent(ctx context.Context, ev model.MonitoringEvent) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO monitoring_events (id, session_id, event_type, payload, ip_address, user_agent, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			ev.ID, ev.SessionID, ev.Type, nullJSON(ev.Payload), ev.IPAddress, ev.UserAgent, ev.OccurredAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return bumpCounters(ctx, tx, map[uuid.UUID]map[model.Counter]int{
			ev.SessionID: {ev.Type.Counter(): 1},
		})
	})
}

// AppendEvents stores a batch of monitoring events and bumps the session
// counters in one transaction. The batch is staged with COPY and moved over
// with ON CONFLICT DO NOTHING, so a replayed event id is skipped and only the
// rows actually inserted count.
func (r *SessionRepository) AppendEvents(ctx context.Context, events []model.MonitoringEvent) error {
	if len(events) == 0 {
		return nil
	}

	events = uniqueEvents(events)
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []any{
			ev.ID, ev.SessionID, string(ev.Type), nullJSON(ev.Payload), ev.IPAddress, ev.UserAgent, ev.OccurredAt,
		})
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`CREATE TEMP TABLE monitoring_events_stage
			 (LIKE monitoring_events INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("stage events: %w", err)
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"monitoring_events_stage"},
			eventColumns,
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy events: %w", err)
		}

		inserted, err := tx.Query(ctx,
			`INSERT INTO monitoring_events (id, session_id, event_type, payload, ip_address, user_agent, occurred_at)
			 SELECT id, session_id, event_type, payload, ip_address, user_agent, occurred_at
			 FROM monitoring_events_stage
			 ON CONFLICT (id) DO NOTHING
			 RETURNING session_id, event_type`)
		if err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		deltas := make(map[uuid.UUID]map[model.Counter]int)
		var (
			sessionID uuid.UUID
			typ       model.EventType
		)
		_, err = pgx.ForEachRow(inserted, []any{&sessionID, &typ}, func() error {
			if deltas[sessionID] == nil {
				deltas[sessionID] = make(map[model.Counter]int)
			}
			deltas[sessionID][typ.Counter()]++
			return nil
		})
		if err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		return bumpCounters(ctx, tx, deltas)
	})
}

var eventColumns = []string{"id", "session_id", "event_type", "payload", "ip_address", "user_agent", "occurred_at"}

// uniqueEvents keeps the first occurrence of each event id. A queue replay can
// carry the same event twice, and one INSERT cannot touch a key twice.
func uniqueEvents(events []model.MonitoringEvent) []model.MonitoringEvent {
	seen := make(map[uuid.UUID]struct{}, len(events))
	out := events[:0:0]
	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}

func bumpCounters(ctx context.Context, tx pgx.Tx, deltas map[uuid.UUID]map[model.Counter]int) error {
	batch := &pgx.Batch{}
	for sessionID, byCounter := range deltas {
		for counter, n := range byCounter {
			col, ok := counterColumns[counter]
			if !ok {
				continue
			}
			batch.Queue(
				`UPDATE student_assessment_sessions SET `+col+` = `+col+` + $2 WHERE id = $1`,
				sessionID, n)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

// ListEvents returns a session's monitoring log in occurrence order.
func (r *SessionRepository) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]model.MonitoringEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, event_type, payload, ip_address, user_agent, occurred_at
		 FROM monitoring_events WHERE session_id = $1
		 ORDER BY occurred_at, id`, sessionID)
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

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	err := row.Scan(&s.ID, &s.AssessmentID, &s.StudentID, &s.Status, &s.EnrolledAt, &s.StartedAt,
		&s.SubmittedAt, &s.EvaluatedAt, &s.SubmitReason, &s.TimeSpentSeconds, &s.CurrentSection,
		&s.CurrentQuestion, &s.PositionEnteredAt, &s.TimeUsage, &s.FaceViolations, &s.TabSwitchCount,
		&s.CopyPasteAttempts, &s.TotalScore, &s.Percentage, &s.PendingReview, &s.Breakdown)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// nullJSON stores an absent payload as SQL NULL rather than invalid JSON.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
