package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/repository"
	"github.com/stemsi/examguard-backend/internal/session"
)

var ErrNoSession = errors.New("student is not enrolled in this assessment")

// SessionService is the request-facing wrapper around the session machine.
type SessionService struct {
	machine     *session.Machine
	sessions    *repository.SessionRepository
	assessments *AssessmentService
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	machine *session.Machine,
	sessions *repository.SessionRepository,
	assessments *AssessmentService,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		machine:     machine,
		sessions:    sessions,
		assessments: assessments,
		rdb:         rdb,
		log:         log.With().Str("component", "session_service").Logger(),
	}
}

// Resolve maps (assessment, student) to the student's session.
func (s *SessionService) Resolve(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Session, error) {
	sess, err := s.sessions.GetSessionByOwner(ctx, assessmentID, studentID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return sess, nil
}

// Current reads the stored session, bypassing any request-scoped snapshot.
func (s *SessionService) Current(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// FaceDetection reports whether the assessment samples camera presence.
func (s *SessionService) FaceDetection(ctx context.Context, assessmentID uuid.UUID) (bool, error) {
	a, err := s.assessments.Load(ctx, assessmentID)
	if err != nil {
		return false, err
	}
	return a.FaceDetectionEnabled, nil
}

// Enroll creates (or returns) the student's session.
func (s *SessionService) Enroll(ctx context.Context, assessmentID uuid.UUID, studentID int) (session.Result, error) {
	return s.machine.Enroll(ctx, assessmentID, studentID)
}

// Start admits the student, or resumes an attempt already in progress.
func (s *SessionService) Start(ctx context.Context, assessmentID uuid.UUID, studentID int) (session.Result, error) {
	sess, err := s.Resolve(ctx, assessmentID, studentID)
	if err != nil {
		return session.Result{}, err
	}
	return s.machine.Start(ctx, sess.ID)
}

// Paper returns the student paper in the session's own question order.
func (s *SessionService) Paper(ctx context.Context, sess *model.Session) (*model.AssessmentPaper, error) {
	if sess.Status == model.SessionEnrolled {
		return nil, session.ErrNotStarted
	}

	a, err := s.assessments.Load(ctx, sess.AssessmentID)
	if err != nil {
		return nil, err
	}
	paper, err := s.assessments.Paper(ctx, sess.AssessmentID)
	if err != nil {
		return nil, err
	}
	if a.RandomizeQuestions {
		paper = OrderForSession(paper, sess.ID)
	}
	return paper, nil
}

// State is the reload snapshot.
func (s *SessionService) State(ctx context.Context, sessionID uuid.UUID) (*model.SessionState, error) {
	return s.machine.State(ctx, sessionID)
}

// SaveAnswer upserts one answer.
func (s *SessionService) SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, req *model.SaveAnswerRequest) (session.Result, error) {
	var ts time.Time
	if req.ClientTimestamp != nil {
		ts = *req.ClientTimestamp
	}
	return s.machine.SaveAnswer(ctx, sessionID, questionID, req.Value, ts)
}

// Navigate records the student's position.
func (s *SessionService) Navigate(ctx context.Context, sessionID uuid.UUID, section, question int) (session.Result, error) {
	return s.machine.Navigate(ctx, sessionID, section, question)
}

// Submit is the student's manual submit.
func (s *SessionService) Submit(ctx context.Context, sessionID uuid.UUID) (session.Result, error) {
	return s.machine.Submit(ctx, sessionID, model.SubmitManual)
}

// Result renders the student's result, gated by the assessment's release setting.
func (s *SessionService) Result(ctx context.Context, sess *model.Session) (*model.SessionResult, error) {
	a, err := s.assessments.Load(ctx, sess.AssessmentID)
	if err != nil {
		return nil, err
	}
	return StudentResult(sess, a), nil
}

// ─── Teacher side ───────────────────────────────────────────────────

// TeacherSession loads a session whose assessment belongs to the teacher.
func (s *SessionService) TeacherSession(ctx context.Context, teacherID int, sessionID uuid.UUID) (*model.Session, *model.Assessment, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.assessments.Get(ctx, teacherID, sess.AssessmentID)
	if err != nil {
		return nil, nil, err
	}
	return sess, a, nil
}

// ListSessions returns every session of the teacher's assessment.
func (s *SessionService) ListSessions(ctx context.Context, teacherID int, assessmentID uuid.UUID) ([]model.Session, error) {
	if _, err := s.assessments.Get(ctx, teacherID, assessmentID); err != nil {
		return nil, err
	}
	list, err := s.sessions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Session{}
	}
	return list, nil
}

// SessionDetail is the teacher's full view of one attempt.
type SessionDetail struct {
	Session *model.Session       `json:"session"`
	Result  *model.SessionResult `json:"result"`
	Answers []model.AnswerRecord `json:"answers"`
}

// Detail returns a session with its answers and unredacted result.
func (s *SessionService) Detail(ctx context.Context, teacherID int, sessionID uuid.UUID) (*SessionDetail, error) {
	sess, _, err := s.TeacherSession(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	answers, err := s.sessions.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if answers == nil {
		answers = []model.AnswerRecord{}
	}
	return &SessionDetail{Session: sess, Result: TeacherResult(sess), Answers: answers}, nil
}

// Evaluate grades a submitted session on demand.
func (s *SessionService) Evaluate(ctx context.Context, teacherID int, sessionID uuid.UUID) (session.Result, error) {
	if _, _, err := s.TeacherSession(ctx, teacherID, sessionID); err != nil {
		return session.Result{}, err
	}
	return s.machine.Evaluate(ctx, sessionID)
}

// Review stores a human score for a free-text answer.
func (s *SessionService) Review(ctx context.Context, teacherID int, sessionID, questionID uuid.UUID, score float64) (session.Result, error) {
	if _, _, err := s.TeacherSession(ctx, teacherID, sessionID); err != nil {
		return session.Result{}, err
	}
	return s.machine.ReviewAnswer(ctx, sessionID, questionID, score, teacherID)
}

// RefreshAssessment rebuilds the paper cache and drops the machine's cached
// definition so the next operation reloads it from PostgreSQL.
func (s *SessionService) RefreshAssessment(ctx context.Context, teacherID int, assessmentID uuid.UUID) error {
	a, err := s.assessments.Get(ctx, teacherID, assessmentID)
	if err != nil {
		return err
	}
	s.machine.ForgetAssessment(assessmentID)
	return s.assessments.WarmPaperCache(ctx, a)
}

// ─── Deadline cache ─────────────────────────────────────────────────

const deadlineTTL = 24 * time.Hour

// CacheDeadline records a started session's hard deadline for the time-sync
// fast path. It never overwrites: a submit may already have closed the key.
func (s *SessionService) CacheDeadline(ctx context.Context, sessionID uuid.UUID, deadline time.Time) {
	key := config.CacheKey.SessionDeadlineKey(sessionID.String())
	if err := s.rdb.SetNX(ctx, key, deadline.UnixMilli(), deadlineTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to cache deadline")
	}
}

// CloseDeadline pins the cached deadline to the submit instant so time sync
// reports nothing left, even if a late CacheDeadline races the submit.
func (s *SessionService) CloseDeadline(ctx context.Context, sessionID uuid.UUID, at time.Time) {
	key := config.CacheKey.SessionDeadlineKey(sessionID.String())
	if err := s.rdb.Set(ctx, key, at.UnixMilli(), deadlineTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to close cached deadline")
	}
}

// Remaining returns the time left on a session without touching the session
// queue. A cache miss falls back to PostgreSQL and heals the cache while the
// attempt is still running.
func (s *SessionService) Remaining(ctx context.Context, sessionID uuid.UUID, now time.Time) (time.Duration, error) {
	key := config.CacheKey.SessionDeadlineKey(sessionID.String())

	ms, err := s.rdb.Get(ctx, key).Int64()
	if err == nil {
		return max(time.UnixMilli(ms).Sub(now), 0), nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Redis error reading deadline, falling back to PostgreSQL")
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	var a *model.Assessment
	if sess.Status == model.SessionStarted {
		if a, err = s.assessments.Load(ctx, sess.AssessmentID); err != nil {
			return 0, err
		}
	}
	left, deadline, err := remainingFor(a, sess, now)
	if err != nil {
		return 0, err
	}
	if !deadline.IsZero() {
		s.CacheDeadline(ctx, sess.ID, deadline)
	}
	return left, nil
}

// remainingFor derives the time left from the stored session. Only a started
// session has a live deadline; a finished one has nothing left.
func remainingFor(a *model.Assessment, sess *model.Session, now time.Time) (time.Duration, time.Time, error) {
	switch sess.Status {
	case model.SessionEnrolled:
		return 0, time.Time{}, session.ErrNotStarted
	case model.SessionStarted:
		deadline, _, ok := session.Deadline(a, sess)
		if !ok {
			return 0, time.Time{}, session.ErrNotStarted
		}
		return max(deadline.Sub(now), 0), deadline, nil
	default:
		return 0, time.Time{}, nil
	}
}
