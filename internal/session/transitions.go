package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/clock"
	"github.com/stemsi/examguard-backend/internal/grading"
	"github.com/stemsi/examguard-backend/internal/logger"
	"github.com/stemsi/examguard-backend/internal/model"
)

const maxCodeBytes = 64 << 10

// Enroll creates the student's session, or returns the existing one.
// Applied is false when the student was already enrolled.
func (m *Machine) Enroll(ctx context.Context, assessmentID uuid.UUID, studentID int) (Result, error) {
	a, err := m.assessment(ctx, assessmentID)
	if err != nil {
		return Result{}, err
	}
	if !a.IsPublished {
		return Result{}, ErrAssessmentNotPublished
	}

	s, created, err := m.store.CreateSession(ctx, &model.Session{
		ID:           uuid.New(),
		AssessmentID: assessmentID,
		StudentID:    studentID,
		Status:       model.SessionEnrolled,
		EnrolledAt:   m.clk.Now().UTC(),
	})
	if err != nil {
		return Result{}, persistErr("create_session", err)
	}

	if created {
		l := logger.Session(m.log, s.ID, assessmentID, studentID)
		l.Info().Msg("Student enrolled")
	}
	return Result{Session: s, Applied: created}, nil
}

// Start admits the student. Calling it again on a started session resumes
// with the remaining time recomputed from started_at.
func (m *Machine) Start(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	return m.do(ctx, sessionID, func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
		if !a.IsPublished {
			return Result{}, ErrAssessmentNotPublished
		}

		switch s.Status {
		case model.SessionStarted:
			s, _, err = m.settle(ctx, act, s, a)
			if err == nil && s.Status == model.SessionStarted {
				m.audit(ctx, act, s, model.EventSessionResumed, nil)
			}
			return Result{Session: s}, err
		case model.SessionSubmitted, model.SessionEvaluated:
			return Result{Session: s}, nil
		}

		now := m.clk.Now().UTC()
		if (a.StartTime != nil && now.Before(*a.StartTime)) || (a.EndTime != nil && !now.Before(*a.EndTime)) {
			return Result{Session: s}, ErrOutsideWindow
		}

		ok, err := m.store.MarkStarted(ctx, sessionID, now)
		if err != nil {
			return Result{Session: s}, persistErr("mark_started", err)
		}
		if !ok {
			return m.reload(ctx, sessionID)
		}

		s.Status = model.SessionStarted
		s.StartedAt = &now
		s.CurrentSection = 1
		s.CurrentQuestion = 1
		s.PositionEnteredAt = &now
		s.TimeUsage = model.TimeUsage{}
		m.arm(act, s, a)

		act.log.Info().Time("deadline", act.timers.Effective().Deadline()).Msg("Session started")
		if m.hooks.OnStarted != nil {
			m.hooks.OnStarted(s.Clone(), a)
		}
		return Result{Session: s, Applied: true}, nil
	})
}

// SaveAnswer upserts one answer, last-write-wins by client timestamp.
// A future client timestamp is clamped to now.
func (m *Machine) SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, value model.AnswerValue, clientTS time.Time) (Result, error) {
	return m.do(ctx, sessionID, func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.loadStarted(ctx, act, sessionID)
		if err != nil {
			return Result{Session: s}, err
		}

		sec, q, ok := a.FindQuestion(questionID)
		if !ok {
			return Result{Session: s}, ErrUnknownQuestion
		}
		now := m.clk.Now().UTC()
		if timeLimitReached(a, s, sec, q, now) {
			return Result{Session: s}, ErrTimeLimitReached
		}
		if err := checkAnswer(sec, q, value); err != nil {
			return Result{Session: s}, err
		}

		ts := clientTS.UTC()
		if ts.IsZero() || ts.After(now) {
			ts = now
		}

		applied, err := m.store.UpsertAnswer(ctx, model.AnswerRecord{
			SessionID:       sessionID,
			QuestionID:      questionID,
			Value:           value,
			ClientTimestamp: ts,
			UpdatedAt:       now,
		})
		if err != nil {
			return Result{Session: s}, persistErr("upsert_answer", err)
		}
		if !applied {
			act.log.Debug().Str("question_id", questionID.String()).Msg("Stale answer ignored")
		}
		return Result{Session: s, Applied: applied}, nil
	})
}

// Navigate records the student's current section (1-based order) and
// question (1-based, in the student's shuffled order). Time spent at the
// previous position is banked, so a section's limit keeps counting across
// visits. A section whose limit is used up cannot be entered again.
func (m *Machine) Navigate(ctx context.Context, sessionID uuid.UUID, section, question int) (Result, error) {
	return m.do(ctx, sessionID, func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.loadStarted(ctx, act, sessionID)
		if err != nil {
			return Result{Session: s}, err
		}

		sec, ok := a.SectionByOrder(section)
		if !ok || question < 1 || (len(sec.Questions) > 0 && question > len(sec.Questions)) {
			return Result{Session: s}, ErrInvalidPosition
		}
		if section == s.CurrentSection && question == s.CurrentQuestion {
			return Result{Session: s}, nil
		}

		now := m.clk.Now().UTC()
		if section != s.CurrentSection && !sectionOpen(a, s, section, now) {
			return Result{Session: s}, ErrTimeLimitReached
		}
		return m.move(ctx, act, s, a, section, question, now)
	})
}

// RecordEvent appends a monitoring event and bumps its counter. Events are
// accepted while started and, for audit, after submission.
func (m *Machine) RecordEvent(ctx context.Context, ev model.MonitoringEvent) error {
	_, err := m.do(ctx, ev.SessionID, func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, ev.SessionID)
		if err != nil {
			return Result{}, err
		}
		if s.Status == model.SessionStarted {
			if s, _, err = m.settle(ctx, act, s, a); err != nil {
				return Result{Session: s}, err
			}
		}
		if s.Status != model.SessionStarted && s.Status != model.SessionSubmitted {
			return Result{Session: s}, ErrEventsClosed
		}

		if err := m.appendEvent(ctx, s, &ev); err != nil {
			return Result{Session: s}, err
		}
		return Result{Session: s, Applied: true}, nil
	})
	return err
}

// Submit moves a started session to submitted. A session past its deadline
// is submitted with the forced reason instead and Applied is false.
func (m *Machine) Submit(ctx context.Context, sessionID uuid.UUID, reason model.SubmitReason) (Result, error) {
	return m.do(ctx, sessionID, func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
		if s.Status != model.SessionStarted {
			return Result{Session: s}, nil
		}

		s, forced, err := m.settle(ctx, act, s, a)
		if err != nil || forced {
			return Result{Session: s}, err
		}
		return m.submit(ctx, act, s, a, reason, m.clk.Now().UTC())
	})
}

// Evaluate grades a submitted session and commits the score through a
// conditional submitted → evaluated write. Grading runs outside the queue; a
// concurrent second evaluation commits nothing. A grading failure leaves the
// session submitted.
func (m *Machine) Evaluate(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	s, a, err := m.load(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if s.Status != model.SessionSubmitted {
		return Result{Session: s}, nil
	}

	answers, err := m.answers(ctx, sessionID)
	if err != nil {
		return Result{Session: s}, err
	}

	breakdown, err := m.grader.Grade(ctx, a, answers)
	if err != nil {
		return Result{Session: s}, fmt.Errorf("grade session %s: %w", sessionID, err)
	}

	return m.do(ctx, sessionID, func(ctx context.Context, act *actor) (Result, error) {
		now := m.clk.Now().UTC()
		ok, err := m.store.MarkEvaluated(ctx, Evaluation{SessionID: sessionID, Breakdown: breakdown, EvaluatedAt: now})
		if err != nil {
			return Result{}, persistErr("mark_evaluated", err)
		}
		if !ok {
			return m.reload(ctx, sessionID)
		}

		if fresh, err := m.store.GetSession(ctx, sessionID); err == nil {
			s = fresh
		}
		s.Status = model.SessionEvaluated
		s.EvaluatedAt = &now
		applyScore(s, breakdown)

		act.log.Info().
			Float64("score", breakdown.TotalScore).
			Float64("percentage", breakdown.Percentage).
			Int("pending_review", breakdown.PendingReview).
			Msg("Session evaluated")
		if m.hooks.OnEvaluated != nil {
			m.hooks.OnEvaluated(s.Clone())
		}
		return Result{Session: s, Applied: true}, nil
	})
}

// ReviewAnswer stores a human score for a free-text answer. On an evaluated
// session the totals are recomputed without re-executing anything.
func (m *Machine) ReviewAnswer(ctx context.Context, sessionID, questionID uuid.UUID, score float64, reviewerID int) (Result, error) {
	return m.do(ctx, sessionID, func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
		if s.Status != model.SessionSubmitted && s.Status != model.SessionEvaluated {
			return Result{Session: s}, ErrNotSubmitted
		}

		sec, _, ok := a.FindQuestion(questionID)
		if !ok {
			return Result{Session: s}, ErrUnknownQuestion
		}
		if sec.Type != model.SectionFreeText {
			return Result{Session: s}, ErrNotReviewable
		}
		score = min(max(score, 0), sec.MarksPerQuestion)

		review := Review{SessionID: sessionID, QuestionID: questionID, Score: score, ReviewerID: reviewerID}
		if s.Status == model.SessionEvaluated && s.Breakdown != nil {
			if err := grading.ApplyReview(s.Breakdown, questionID, score); err != nil {
				return Result{Session: s}, fmt.Errorf("%w: %v", ErrNotReviewable, err)
			}
			review.Breakdown = s.Breakdown
		}

		if err := m.store.SaveReview(ctx, review); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Result{Session: s}, fmt.Errorf("%w: question was not answered", ErrNotReviewable)
			}
			return Result{Session: s}, persistErr("save_review", err)
		}

		if review.Breakdown != nil {
			applyScore(s, review.Breakdown)
		}
		act.log.Info().Str("question_id", questionID.String()).Int("reviewer_id", reviewerID).Msg("Answer reviewed")
		return Result{Session: s, Applied: true}, nil
	})
}

// State returns the reload snapshot. Remaining time is recomputed from the
// stored start instant.
func (m *Machine) State(ctx context.Context, sessionID uuid.UUID) (*model.SessionState, error) {
	res, err := m.do(ctx, sessionID, func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
		if s.Status == model.SessionStarted {
			s, _, err = m.settle(ctx, act, s, a)
		}
		return Result{Session: s}, err
	})
	if err != nil {
		return nil, err
	}
	s := res.Session

	a, err := m.assessment(ctx, s.AssessmentID)
	if err != nil {
		return nil, err
	}
	answers, err := m.answers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	st := &model.SessionState{
		SessionID:         s.ID,
		Status:            s.Status,
		ElapsedSeconds:    s.TimeSpentSeconds,
		CurrentSection:    s.CurrentSection,
		CurrentQuestion:   s.CurrentQuestion,
		FaceViolations:    s.FaceViolations,
		TabSwitchCount:    s.TabSwitchCount,
		CopyPasteAttempts: s.CopyPasteAttempts,
		FaceWarning:       s.FaceViolations >= m.cfg.FaceWarningThreshold,
		Answers:           answers,
	}

	now := m.clk.Now()
	switch s.Status {
	case model.SessionEnrolled:
		st.RemainingSeconds = a.Duration().Seconds()
	case model.SessionStarted:
		deadline, _, _ := Deadline(a, s)
		st.Deadline = &deadline
		st.RemainingSeconds = max(deadline.Sub(now), 0).Seconds()
		st.ElapsedSeconds = timeSpent(a, s, now)
		if t := sectionTimer(m.clk, a, s); t != nil {
			left := t.Remaining().Seconds()
			st.SectionRemaining = &left
		}
		if t := questionTimer(m.clk, a, s); t != nil {
			left := t.Remaining().Seconds()
			st.QuestionRemaining = &left
		}
	}
	return st, nil
}

// Resume re-arms the timers of every started session after a restart and
// submits the ones whose deadline passed while the process was down.
func (m *Machine) Resume(ctx context.Context) (int, error) {
	started, err := m.store.ListStartedSessions(ctx)
	if err != nil {
		return 0, persistErr("list_started", err)
	}

	resumed := 0
	for _, s := range started {
		res, err := m.do(ctx, s.ID, m.settleOp(s.ID))
		if err != nil {
			m.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Resume session failed")
			continue
		}
		if res.Session != nil && res.Session.Status == model.SessionStarted {
			resumed++
		}
	}

	m.log.Info().Int("started", len(started)).Int("resumed", resumed).Msg("Sessions resumed")
	return resumed, nil
}

// SweepExpired submits every started session whose deadline has passed, even
// when no timer fired. Returns the number of sessions submitted.
func (m *Machine) SweepExpired(ctx context.Context) (int, error) {
	started, err := m.store.ListStartedSessions(ctx)
	if err != nil {
		return 0, persistErr("list_started", err)
	}

	now := m.clk.Now()
	submitted := 0
	for i := range started {
		s := &started[i]
		a, err := m.assessment(ctx, s.AssessmentID)
		if err != nil {
			m.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Sweep: load assessment failed")
			continue
		}
		deadline, _, ok := Deadline(a, s)
		if !ok || now.Before(deadline) {
			continue
		}

		res, err := m.do(ctx, s.ID, m.settleOp(s.ID))
		if err != nil {
			m.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Sweep: submit failed")
			continue
		}
		if res.Applied {
			submitted++
		}
	}
	return submitted, nil
}

// ─── Internals (run on the session queue) ───────────────────────────

func (m *Machine) settleOp(sessionID uuid.UUID) func(ctx context.Context, act *actor) (Result, error) {
	return func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
		if s.Status != model.SessionStarted {
			return Result{Session: s}, nil
		}
		s, forced, err := m.settle(ctx, act, s, a)
		return Result{Session: s, Applied: forced}, err
	}
}

// settle submits a started session that is past its deadline, otherwise
// makes sure its timers are armed. forced reports a submit.
func (m *Machine) settle(ctx context.Context, act *actor, s *model.Session, a *model.Assessment) (*model.Session, bool, error) {
	deadline, reason, ok := Deadline(a, s)
	if !ok {
		return s, false, nil
	}
	if m.clk.Now().Before(deadline) {
		if act.timers == nil {
			m.arm(act, s, a)
		}
		return s, false, nil
	}

	res, err := m.submit(ctx, act, s, a, reason, deadline)
	return res.Session, res.Applied, err
}

func (m *Machine) loadStarted(ctx context.Context, act *actor, sessionID uuid.UUID) (*model.Session, *model.Assessment, error) {
	s, a, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	switch s.Status {
	case model.SessionEnrolled:
		return s, a, ErrNotStarted
	case model.SessionSubmitted, model.SessionEvaluated:
		return s, a, ErrAnswersFrozen
	}
	s, forced, err := m.settle(ctx, act, s, a)
	if err != nil {
		return s, a, err
	}
	if forced {
		return s, a, ErrAnswersFrozen
	}
	return s, a, nil
}

func (m *Machine) arm(act *actor, s *model.Session, a *model.Assessment) {
	if act.timers != nil {
		act.timers.Stop()
	}
	sessionID := s.ID
	act.timers = buildTimers(m.clk, a, s)
	act.timers.Arm(func(name string) {
		m.post(sessionID, m.expireOp(sessionID, reasonForTimer(name)))
	})
	m.armSoft(act, s, a)
}

// armSoft replaces the soft limits with the ones running at the current
// position. A limit already used up fires straight away.
func (m *Machine) armSoft(act *actor, s *model.Session, a *model.Assessment) {
	if act.timers == nil {
		return
	}
	act.timers.ClearSoft()
	sessionID := s.ID
	for _, t := range []*clock.Timer{sectionTimer(m.clk, a, s), questionTimer(m.clk, a, s)} {
		if t == nil {
			continue
		}
		act.timers.SetSoft(t, func(string) {
			m.post(sessionID, m.limitOp(sessionID))
		})
	}
}

// move persists a new position, banking the time of the previous one, and
// re-arms the soft limits for it.
func (m *Machine) move(ctx context.Context, act *actor, s *model.Session, a *model.Assessment, section, question int, now time.Time) (Result, error) {
	next := s.Clone()
	bankPosition(a, next, now)
	next.CurrentSection = section
	next.CurrentQuestion = question

	pos := Position{Section: section, Question: question, EnteredAt: now, Usage: next.TimeUsage}
	if err := m.store.SavePosition(ctx, s.ID, pos); err != nil {
		return Result{Session: s}, persistErr("save_position", err)
	}
	m.armSoft(act, next, a)
	return Result{Session: next, Applied: true}, nil
}

// limitOp moves the student on once the section or coding question at the
// current position has used up its limit. A stale expiry (the student moved
// since it was armed) finds the position still open and does nothing.
func (m *Machine) limitOp(sessionID uuid.UUID) func(ctx context.Context, act *actor) (Result, error) {
	return func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
		if s.Status != model.SessionStarted {
			return Result{Session: s}, nil
		}
		s, forced, err := m.settle(ctx, act, s, a)
		if err != nil || forced {
			return Result{Session: s}, err
		}

		now := m.clk.Now().UTC()
		section, question, ok := nextOpen(a, s, now)
		if !ok {
			return Result{Session: s}, nil
		}
		act.log.Info().
			Int("from_section", s.CurrentSection).
			Int("from_question", s.CurrentQuestion).
			Int("to_section", section).
			Int("to_question", question).
			Msg("Time limit reached, moving on")
		return m.move(ctx, act, s, a, section, question, now)
	}
}

// nextOpen returns where the student goes when a limit at the current position
// ran out: the next question when only the coding question expired, otherwise
// the first question of the next section that still has time. ok is false when
// nothing expired or no open position is left.
func nextOpen(a *model.Assessment, s *model.Session, now time.Time) (int, int, bool) {
	sec, q, ok := a.QuestionAt(s.ID, s.CurrentSection, s.CurrentQuestion)
	if sec == nil {
		return 0, 0, false
	}
	if sectionOpen(a, s, s.CurrentSection, now) {
		if !ok || !timeLimitReached(a, s, sec, q, now) {
			return 0, 0, false
		}
		if s.CurrentQuestion < len(sec.Questions) {
			return s.CurrentSection, s.CurrentQuestion + 1, true
		}
	}
	for order := s.CurrentSection + 1; ; order++ {
		if _, exists := a.SectionByOrder(order); !exists {
			return 0, 0, false
		}
		if sectionOpen(a, s, order, now) {
			return order, 1, true
		}
	}
}

func (m *Machine) expireOp(sessionID uuid.UUID, reason model.SubmitReason) func(ctx context.Context, act *actor) (Result, error) {
	return func(ctx context.Context, act *actor) (Result, error) {
		s, a, err := m.load(ctx, sessionID)
		if err != nil {
			return Result{}, err
		}
		if s.Status != model.SessionStarted {
			return Result{Session: s}, nil
		}
		deadline, _, _ := Deadline(a, s)
		at := m.clk.Now().UTC()
		if deadline.Before(at) {
			at = deadline
		}
		return m.submit(ctx, act, s, a, reason, at)
	}
}

func (m *Machine) submit(ctx context.Context, act *actor, s *model.Session, a *model.Assessment, reason model.SubmitReason, at time.Time) (Result, error) {
	at = at.UTC()
	spent := timeSpent(a, s, at)

	ok, err := m.store.MarkSubmitted(ctx, Submission{
		SessionID:        s.ID,
		SubmittedAt:      at,
		Reason:           reason,
		TimeSpentSeconds: spent,
	})
	if err != nil {
		return Result{Session: s}, persistErr("mark_submitted", err)
	}
	if !ok {
		return m.reload(ctx, s.ID)
	}

	if act.timers != nil {
		act.timers.Stop()
		act.timers = nil
	}
	s.Status = model.SessionSubmitted
	s.SubmittedAt = &at
	s.SubmitReason = reason
	s.TimeSpentSeconds = spent

	act.log.Info().Str("reason", string(reason)).Int("time_spent_seconds", spent).Msg("Session submitted")
	if reason != model.SubmitManual {
		m.audit(ctx, act, s, model.EventForcedSubmit, map[string]any{"reason": reason})
	}
	if m.hooks.OnSubmitted != nil {
		m.hooks.OnSubmitted(s.Clone())
	}
	return Result{Session: s, Applied: true}, nil
}

func (m *Machine) appendEvent(ctx context.Context, s *model.Session, ev *model.MonitoringEvent) error {
	ev.SessionID = s.ID
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.clk.Now().UTC()
	}

	if err := m.store.AppendEvent(ctx, *ev); err != nil {
		return persistErr("append_event", err)
	}

	switch ev.Type.Counter() {
	case model.CounterFace:
		s.FaceViolations++
	case model.CounterTabSwitch:
		s.TabSwitchCount++
	case model.CounterCopyPaste:
		s.CopyPasteAttempts++
	}
	if m.hooks.OnEvent != nil {
		m.hooks.OnEvent(s.Clone(), *ev)
	}
	return nil
}

// audit records a lifecycle event. Failures are logged, never returned.
func (m *Machine) audit(ctx context.Context, act *actor, s *model.Session, typ model.EventType, payload map[string]any) {
	ev := model.MonitoringEvent{Type: typ}
	if payload != nil {
		raw, _ := json.Marshal(payload)
		ev.Payload = raw
	}
	if err := m.appendEvent(ctx, s, &ev); err != nil {
		act.log.Warn().Err(err).Str("event_type", string(typ)).Msg("Audit event not recorded")
	}
}

func (m *Machine) reload(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, persistErr("get_session", err)
	}
	return Result{Session: s}, nil
}

func (m *Machine) answers(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]model.AnswerRecord, error) {
	list, err := m.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, persistErr("list_answers", err)
	}
	out := make(map[uuid.UUID]model.AnswerRecord, len(list))
	for _, rec := range list {
		out[rec.QuestionID] = rec
	}
	return out, nil
}

func applyScore(s *model.Session, b *model.ScoreBreakdown) {
	total, pct := b.TotalScore, b.Percentage
	s.TotalScore = &total
	s.Percentage = &pct
	s.PendingReview = b.PendingReview
	s.Breakdown = b
}

func checkAnswer(sec *model.Section, q *model.Question, v model.AnswerValue) error {
	switch sec.Type {
	case model.SectionSingleChoice, model.SectionMultiChoice:
		if sec.Type == model.SectionSingleChoice && len(v.Selected) > 1 {
			return fmt.Errorf("%w: single choice accepts one option", ErrInvalidAnswer)
		}
		n := 0
		if q.Choice != nil {
			n = len(q.Choice.Options)
		}
		seen := make(map[int]bool, len(v.Selected))
		for _, idx := range v.Selected {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: option %d out of range", ErrInvalidAnswer, idx)
			}
			if seen[idx] {
				return fmt.Errorf("%w: option %d repeated", ErrInvalidAnswer, idx)
			}
			seen[idx] = true
		}
	case model.SectionFreeText:
		if q.FreeText != nil && q.FreeText.MaxWords != nil {
			if words := len(strings.Fields(v.Text)); words > *q.FreeText.MaxWords {
				return fmt.Errorf("%w: %d words exceeds limit of %d", ErrInvalidAnswer, words, *q.FreeText.MaxWords)
			}
		}
	case model.SectionCoding:
		if len(v.Code) > maxCodeBytes {
			return fmt.Errorf("%w: source exceeds %d bytes", ErrInvalidAnswer, maxCodeBytes)
		}
	}
	return nil
}
