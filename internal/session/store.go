package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// Store is the durable side of the machine. Every status change is a
// conditional write guarded by the expected current status; the bool result
// reports whether the row was actually moved. Lookups return ErrNotFound when
// the row does not exist.
type Store interface {
	GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)

	// CreateSession inserts an enrolled session or returns the existing one for
	// the same (assessment, student). created is false for the latter.
	CreateSession(ctx context.Context, s *model.Session) (sess *model.Session, created bool, err error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	GetSessionByOwner(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Session, error)
	ListStartedSessions(ctx context.Context) ([]model.Session, error)

	// MarkStarted also places the student on section 1, question 1.
	MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	MarkSubmitted(ctx context.Context, sub Submission) (bool, error)
	MarkEvaluated(ctx context.Context, ev Evaluation) (bool, error)
	SavePosition(ctx context.Context, id uuid.UUID, pos Position) error

	// UpsertAnswer applies rec only when the session is started and rec is not
	// older than the stored record. applied is false otherwise.
	UpsertAnswer(ctx context.Context, rec model.AnswerRecord) (applied bool, err error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error)
	SaveReview(ctx context.Context, r Review) error

	// AppendEvent stores ev and bumps the matching session counter atomically.
	AppendEvent(ctx context.Context, ev model.MonitoringEvent) error
}

// Submission is the started → submitted write.
type Submission struct {
	SessionID        uuid.UUID
	SubmittedAt      time.Time
	Reason           model.SubmitReason
	TimeSpentSeconds int
}

// Evaluation is the submitted → evaluated write.
type Evaluation struct {
	SessionID   uuid.UUID
	Breakdown   *model.ScoreBreakdown
	EvaluatedAt time.Time
}

// Position is the student's current place in the paper together with the
// time banked on earlier visits.
type Position struct {
	Section   int
	Question  int
	EnteredAt time.Time
	Usage     model.TimeUsage
}

// Review stores a human score on a free-text answer. Breakdown is set when
// the session is already evaluated and its totals must be rewritten.
type Review struct {
	SessionID  uuid.UUID
	QuestionID uuid.UUID
	Score      float64
	ReviewerID int
	Breakdown  *model.ScoreBreakdown
}
