package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/repository"
)

// Update kinds published on an assessment's monitor channel.
const (
	UpdateStarted   = "started"
	UpdateSubmitted = "submitted"
	UpdateEvaluated = "evaluated"
	UpdateEvent     = "event"
)

// MonitorUpdate is one live change pushed to the teacher's dashboard.
type MonitorUpdate struct {
	Type              string                 `json:"type"`
	SessionID         uuid.UUID              `json:"session_id"`
	StudentID         int                    `json:"student_id"`
	Status            model.SessionStatus    `json:"status"`
	FaceViolations    int                    `json:"face_detection_violations"`
	TabSwitchCount    int                    `json:"tab_switch_count"`
	CopyPasteAttempts int                    `json:"copy_paste_attempts"`
	Event             *model.MonitoringEvent `json:"event,omitempty"`
	At                time.Time              `json:"at"`
}

// NewMonitorUpdate builds an update from a session snapshot.
func NewMonitorUpdate(kind string, s *model.Session, ev *model.MonitoringEvent, at time.Time) MonitorUpdate {
	return MonitorUpdate{
		Type:              kind,
		SessionID:         s.ID,
		StudentID:         s.StudentID,
		Status:            s.Status,
		FaceViolations:    s.FaceViolations,
		TabSwitchCount:    s.TabSwitchCount,
		CopyPasteAttempts: s.CopyPasteAttempts,
		Event:             ev,
		At:                at,
	}
}

// SessionProgress is one row of the monitor snapshot.
type SessionProgress struct {
	SessionID         uuid.UUID           `json:"session_id"`
	StudentID         int                 `json:"student_id"`
	Status            model.SessionStatus `json:"status"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	AnsweredCount     int                 `json:"answered_count"`
	FaceViolations    int                 `json:"face_detection_violations"`
	TabSwitchCount    int                 `json:"tab_switch_count"`
	CopyPasteAttempts int                 `json:"copy_paste_attempts"`
	TotalScore        *float64            `json:"total_score,omitempty"`
}

// MonitorSnapshot is the full state a dashboard starts from.
type MonitorSnapshot struct {
	AssessmentID     uuid.UUID                   `json:"assessment_id"`
	Title            string                      `json:"title"`
	DurationMinutes  int                         `json:"duration_minutes"`
	TotalQuestions   int                         `json:"total_questions"`
	StatusCounts     map[model.SessionStatus]int `json:"status_counts"`
	TotalViolations  int                         `json:"total_violations"`
	Sessions         []SessionProgress           `json:"sessions"`
	RecentViolations []model.MonitoringEvent     `json:"recent_violations"`
}

// MonitorService builds the live view of an assessment for its teacher.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	sessions    *repository.SessionRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	monitorRepo *repository.MonitorRepository,
	sessions *repository.SessionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		sessions:    sessions,
		rdb:         rdb,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// Snapshot gathers sessions, answer progress and recent violations concurrently.
// Answer counts and recent violations are best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, a *model.Assessment) (*MonitorSnapshot, error) {
	var (
		list      []model.Session
		answered  map[uuid.UUID]int
		recent    []model.MonitoringEvent
		listErr   error
		answerErr error
		recentErr error
		wg        sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		list, listErr = s.sessions.ListByAssessment(ctx, a.ID)
	}()
	go func() {
		defer wg.Done()
		answered, answerErr = s.monitorRepo.AnsweredCounts(ctx, a.ID)
	}()
	go func() {
		defer wg.Done()
		recent, recentErr = s.monitorRepo.RecentViolations(ctx, a.ID, 50)
	}()
	wg.Wait()

	if listErr != nil {
		return nil, listErr
	}
	if answerErr != nil {
		s.log.Warn().Err(answerErr).Msg("Answered counts unavailable for snapshot")
	}
	if recentErr != nil {
		s.log.Warn().Err(recentErr).Msg("Recent violations unavailable for snapshot")
	}
	if recent == nil {
		recent = []model.MonitoringEvent{}
	}

	snap := &MonitorSnapshot{
		AssessmentID:     a.ID,
		Title:            a.Title,
		DurationMinutes:  a.DurationMinutes,
		TotalQuestions:   a.QuestionCount(),
		StatusCounts:     make(map[model.SessionStatus]int),
		Sessions:         make([]SessionProgress, 0, len(list)),
		RecentViolations: recent,
	}
	for _, sess := range list {
		snap.StatusCounts[sess.Status]++
		snap.TotalViolations += sess.FaceViolations + sess.TabSwitchCount + sess.CopyPasteAttempts
		snap.Sessions = append(snap.Sessions, SessionProgress{
			SessionID:         sess.ID,
			StudentID:         sess.StudentID,
			Status:            sess.Status,
			StartedAt:         sess.StartedAt,
			AnsweredCount:     answered[sess.ID],
			FaceViolations:    sess.FaceViolations,
			TabSwitchCount:    sess.TabSwitchCount,
			CopyPasteAttempts: sess.CopyPasteAttempts,
			TotalScore:        sess.TotalScore,
		})
	}
	return snap, nil
}

// Events returns a session's full monitoring log.
func (s *MonitorService) Events(ctx context.Context, sessionID uuid.UUID) ([]model.MonitoringEvent, error) {
	events, err := s.sessions.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.MonitoringEvent{}
	}
	return events, nil
}

// Publish pushes an update to everyone watching the assessment and to the
// student's own channel.
func (s *MonitorService) Publish(ctx context.Context, assessmentID uuid.UUID, u MonitorUpdate) {
	data, err := json.Marshal(u)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal monitor update")
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID.String()), data)
	pipe.Publish(ctx, config.CacheKey.SessionUpdatesChannel(u.SessionID.String()), data)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", assessmentID.String()).Msg("Monitor update not published")
	}
}

// Subscribe opens the assessment's monitor channel. The caller closes it.
func (s *MonitorService) Subscribe(ctx context.Context, assessmentID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID.String()))
}

// SubscribeSession opens one session's update channel. The caller closes it.
func (s *MonitorService) SubscribeSession(ctx context.Context, sessionID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.SessionUpdatesChannel(sessionID.String()))
}
