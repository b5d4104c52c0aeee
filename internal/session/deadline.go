package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/clock"
	"github.com/stemsi/examguard-backend/internal/model"
)

const (
	timerDuration = "duration"
	timerWindow   = "end_time"
	timerSection  = "section"
	timerQuestion = "question"
)

// Deadline returns the instant a started session is forced to submit and the
// reason that applies. The assessment duration always binds; the window end
// binds too unless late submission is allowed.
func Deadline(a *model.Assessment, s *model.Session) (time.Time, model.SubmitReason, bool) {
	if s.StartedAt == nil {
		return time.Time{}, "", false
	}
	deadline := s.StartedAt.Add(a.Duration())
	reason := model.SubmitTimeout
	if a.EndTime != nil && !a.AllowLateSubmission && a.EndTime.Before(deadline) {
		deadline = *a.EndTime
		reason = model.SubmitDeadline
	}
	return deadline, reason, true
}

func reasonForTimer(name string) model.SubmitReason {
	if name == timerWindow {
		return model.SubmitDeadline
	}
	return model.SubmitTimeout
}

// buildTimers creates the forcing deadlines of a started session. Everything
// is derived from stored instants.
func buildTimers(clk clock.Clock, a *model.Assessment, s *model.Session) *clock.Set {
	set := clock.NewSet()
	set.AddForcing(clock.NewTimer(clk, timerDuration, *s.StartedAt, a.Duration()))
	if a.EndTime != nil && !a.AllowLateSubmission {
		set.AddForcing(clock.NewDeadlineTimer(clk, timerWindow, *a.EndTime))
	}
	return set
}

// sectionTimer counts down the limit of the current section. Time banked on
// earlier visits moves the start back, so leaving and re-entering a section
// never restores its budget.
func sectionTimer(clk clock.Clock, a *model.Assessment, s *model.Session) *clock.Timer {
	sec, ok := a.SectionByOrder(s.CurrentSection)
	if !ok || s.PositionEnteredAt == nil {
		return nil
	}
	limit, ok := sec.TimeLimit()
	if !ok {
		return nil
	}
	start := s.PositionEnteredAt.Add(-s.TimeUsage.Section(s.CurrentSection))
	return clock.NewTimer(clk, timerSection, start, limit)
}

// questionTimer counts down the solve limit of the coding question at the
// current position.
func questionTimer(clk clock.Clock, a *model.Assessment, s *model.Session) *clock.Timer {
	q := timedQuestion(a, s)
	if q == nil || s.PositionEnteredAt == nil {
		return nil
	}
	start := s.PositionEnteredAt.Add(-s.TimeUsage.Question(q.ID))
	return clock.NewTimer(clk, timerQuestion, start, q.Coding.TimeLimit())
}

// timedQuestion returns the question at the current position when it carries
// its own limit.
func timedQuestion(a *model.Assessment, s *model.Session) *model.Question {
	_, q, ok := a.QuestionAt(s.ID, s.CurrentSection, s.CurrentQuestion)
	if !ok || q.Coding == nil || q.Coding.TimeLimit() <= 0 {
		return nil
	}
	return q
}

// bankPosition folds the visit in progress into the session's time usage and
// restarts the visit at now.
func bankPosition(a *model.Assessment, s *model.Session, now time.Time) {
	if s.PositionEnteredAt != nil {
		var qid uuid.UUID
		if q := timedQuestion(a, s); q != nil {
			qid = q.ID
		}
		s.TimeUsage.Add(s.CurrentSection, qid, now.Sub(*s.PositionEnteredAt))
	}
	s.PositionEnteredAt = &now
}

// sectionUsed returns the time spent in a section at now, including the
// visit in progress.
func sectionUsed(s *model.Session, section int, now time.Time) time.Duration {
	used := s.TimeUsage.Section(section)
	if section == s.CurrentSection && s.PositionEnteredAt != nil {
		used += now.Sub(*s.PositionEnteredAt)
	}
	return used
}

// timeLimitReached reports whether the section owning a question, or the
// question itself, has no time left at now.
func timeLimitReached(a *model.Assessment, s *model.Session, sec *model.Section, q *model.Question, now time.Time) bool {
	if limit, ok := sec.TimeLimit(); ok && sectionUsed(s, sec.SectionOrder, now) >= limit {
		return true
	}
	if q.Coding == nil || q.Coding.TimeLimit() <= 0 {
		return false
	}
	used := s.TimeUsage.Question(q.ID)
	if cur := timedQuestion(a, s); cur != nil && cur.ID == q.ID && s.PositionEnteredAt != nil {
		used += now.Sub(*s.PositionEnteredAt)
	}
	return used >= q.Coding.TimeLimit()
}

// sectionOpen reports whether a section still has time at now.
func sectionOpen(a *model.Assessment, s *model.Session, section int, now time.Time) bool {
	sec, ok := a.SectionByOrder(section)
	if !ok {
		return false
	}
	limit, ok := sec.TimeLimit()
	return !ok || sectionUsed(s, section, now) < limit
}

// timeSpent is wall time since start capped at the duration, never below the
// previously recorded value.
func timeSpent(a *model.Assessment, s *model.Session, at time.Time) int {
	if s.StartedAt == nil {
		return s.TimeSpentSeconds
	}
	spent := at.Sub(*s.StartedAt)
	if spent > a.Duration() {
		spent = a.Duration()
	}
	secs := int(spent / time.Second)
	if secs < s.TimeSpentSeconds {
		return s.TimeSpentSeconds
	}
	return max(secs, 0)
}
