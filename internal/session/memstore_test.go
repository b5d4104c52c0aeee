package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// memStore is an in-memory Store with the same conditional-write semantics as
// the PostgreSQL repository.
type memStore struct {
	mu          sync.Mutex
	assessments map[uuid.UUID]*model.Assessment
	sessions    map[uuid.UUID]*model.Session
	answers     map[uuid.UUID]map[uuid.UUID]model.AnswerRecord
	events      []model.MonitoringEvent
	failures    map[string]error
}

func newMemStore(assessments ...*model.Assessment) *memStore {
	st := &memStore{
		assessments: make(map[uuid.UUID]*model.Assessment),
		sessions:    make(map[uuid.UUID]*model.Session),
		answers:     make(map[uuid.UUID]map[uuid.UUID]model.AnswerRecord),
		failures:    make(map[string]error),
	}
	for _, a := range assessments {
		st.assessments[a.ID] = a
	}
	return st
}

// failOnce makes the next call of op return err.
func (st *memStore) failOnce(op string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failures[op] = err
}

func (st *memStore) fail(op string) error {
	if err, ok := st.failures[op]; ok {
		delete(st.failures, op)
		return err
	}
	return nil
}

func copySession(s *model.Session) *model.Session {
	c := s.Clone()
	if s.Breakdown != nil {
		raw, _ := json.Marshal(s.Breakdown)
		var b model.ScoreBreakdown
		_ = json.Unmarshal(raw, &b)
		c.Breakdown = &b
	}
	return c
}

func (st *memStore) GetAssessment(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	a, ok := st.assessments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (st *memStore) CreateSession(_ context.Context, s *model.Session) (*model.Session, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fail("create_session"); err != nil {
		return nil, false, err
	}
	for _, existing := range st.sessions {
		if existing.AssessmentID == s.AssessmentID && existing.StudentID == s.StudentID {
			return copySession(existing), false, nil
		}
	}
	st.sessions[s.ID] = copySession(s)
	return copySession(s), true, nil
}

func (st *memStore) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (st *memStore) GetSessionByOwner(_ context.Context, assessmentID uuid.UUID, studentID int) (*model.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.sessions {
		if s.AssessmentID == assessmentID && s.StudentID == studentID {
			return copySession(s), nil
		}
	}
	return nil, ErrNotFound
}

func (st *memStore) ListStartedSessions(context.Context) ([]model.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []model.Session
	for _, s := range st.sessions {
		if s.Status == model.SessionStarted {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

func (st *memStore) MarkStarted(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fail("mark_started"); err != nil {
		return false, err
	}
	s, ok := st.sessions[id]
	if !ok || s.Status != model.SessionEnrolled {
		return false, nil
	}
	s.Status = model.SessionStarted
	s.StartedAt = &at
	s.CurrentSection, s.CurrentQuestion = 1, 1
	s.PositionEnteredAt = &at
	s.TimeUsage = model.TimeUsage{}
	return true, nil
}

func (st *memStore) MarkSubmitted(_ context.Context, sub Submission) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fail("mark_submitted"); err != nil {
		return false, err
	}
	s, ok := st.sessions[sub.SessionID]
	if !ok || s.Status != model.SessionStarted {
		return false, nil
	}
	at := sub.SubmittedAt
	s.Status = model.SessionSubmitted
	s.SubmittedAt = &at
	s.SubmitReason = sub.Reason
	s.TimeSpentSeconds = sub.TimeSpentSeconds
	return true, nil
}

func (st *memStore) MarkEvaluated(_ context.Context, ev Evaluation) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fail("mark_evaluated"); err != nil {
		return false, err
	}
	s, ok := st.sessions[ev.SessionID]
	if !ok || s.Status != model.SessionSubmitted {
		return false, nil
	}
	at := ev.EvaluatedAt
	total, pct := ev.Breakdown.TotalScore, ev.Breakdown.Percentage
	s.Status = model.SessionEvaluated
	s.EvaluatedAt = &at
	s.TotalScore = &total
	s.Percentage = &pct
	s.PendingReview = ev.Breakdown.PendingReview
	s.Breakdown = ev.Breakdown
	return true, nil
}

func (st *memStore) SavePosition(_ context.Context, id uuid.UUID, pos Position) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok || s.Status != model.SessionStarted {
		return ErrNotFound
	}
	at := pos.EnteredAt
	s.CurrentSection = pos.Section
	s.CurrentQuestion = pos.Question
	s.PositionEnteredAt = &at
	s.TimeUsage = pos.Usage.Clone()
	return nil
}

func (st *memStore) UpsertAnswer(_ context.Context, rec model.AnswerRecord) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fail("upsert_answer"); err != nil {
		return false, err
	}
	s, ok := st.sessions[rec.SessionID]
	if !ok || s.Status != model.SessionStarted {
		return false, nil
	}
	byQuestion := st.answers[rec.SessionID]
	if byQuestion == nil {
		byQuestion = make(map[uuid.UUID]model.AnswerRecord)
		st.answers[rec.SessionID] = byQuestion
	}
	if prev, ok := byQuestion[rec.QuestionID]; ok && rec.ClientTimestamp.Before(prev.ClientTimestamp) {
		return false, nil
	}
	byQuestion[rec.QuestionID] = rec
	return true, nil
}

func (st *memStore) ListAnswers(_ context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []model.AnswerRecord
	for _, rec := range st.answers[sessionID] {
		out = append(out, rec)
	}
	return out, nil
}

func (st *memStore) SaveReview(_ context.Context, r Review) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	rec, ok := st.answers[r.SessionID][r.QuestionID]
	if !ok {
		return ErrNotFound
	}
	score, reviewer := r.Score, r.ReviewerID
	rec.ManualScore = &score
	rec.ReviewedBy = &reviewer
	st.answers[r.SessionID][r.QuestionID] = rec

	if r.Breakdown != nil {
		s := st.sessions[r.SessionID]
		total, pct := r.Breakdown.TotalScore, r.Breakdown.Percentage
		s.TotalScore = &total
		s.Percentage = &pct
		s.PendingReview = r.Breakdown.PendingReview
		s.Breakdown = r.Breakdown
	}
	return nil
}

func (st *memStore) AppendEvent(_ context.Context, ev model.MonitoringEvent) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fail("append_event"); err != nil {
		return err
	}
	s, ok := st.sessions[ev.SessionID]
	if !ok {
		return ErrNotFound
	}
	st.events = append(st.events, ev)
	switch ev.Type.Counter() {
	case model.CounterFace:
		s.FaceViolations++
	case model.CounterTabSwitch:
		s.TabSwitchCount++
	case model.CounterCopyPaste:
		s.CopyPasteAttempts++
	}
	return nil
}

func (st *memStore) eventTypes(sessionID uuid.UUID) []model.EventType {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []model.EventType
	for _, ev := range st.events {
		if ev.SessionID == sessionID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (st *memStore) status(id uuid.UUID) model.SessionStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id].Status
}

func (st *memStore) sessionCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
