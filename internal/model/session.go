package model

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the lifecycle of a student's attempt.
type SessionStatus string

const (
	SessionEnrolled  SessionStatus = "enrolled"
	SessionStarted   SessionStatus = "started"
	SessionSubmitted SessionStatus = "submitted"
	SessionEvaluated SessionStatus = "evaluated"
)

var statusRank = map[SessionStatus]int{
	SessionEnrolled:  0,
	SessionStarted:   1,
	SessionSubmitted: 2,
	SessionEvaluated: 3,
}

// Next reports the only status reachable from s, and false for the terminal state.
func (s SessionStatus) Next() (SessionStatus, bool) {
	switch s {
	case SessionEnrolled:
		return SessionStarted, true
	case SessionStarted:
		return SessionSubmitted, true
	case SessionSubmitted:
		return SessionEvaluated, true
	}
	return "", false
}

// Before reports whether s precedes other in the lifecycle.
func (s SessionStatus) Before(other SessionStatus) bool {
	return statusRank[s] < statusRank[other]
}

// SubmitReason records what moved a session to submitted.
type SubmitReason string

const (
	SubmitManual   SubmitReason = "manual"
	SubmitTimeout  SubmitReason = "timeout"
	SubmitDeadline SubmitReason = "deadline"
)

// Session is one student's single attempt at one assessment.
type Session struct {
	ID                uuid.UUID       `json:"id"`
	AssessmentID      uuid.UUID       `json:"assessment_id"`
	StudentID         int             `json:"student_id"`
	Status            SessionStatus   `json:"status"`
	EnrolledAt        time.Time       `json:"enrolled_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	EvaluatedAt       *time.Time      `json:"evaluated_at,omitempty"`
	SubmitReason      SubmitReason    `json:"submit_reason,omitempty"`
	TimeSpentSeconds  int             `json:"time_spent_seconds"`
	CurrentSection    int             `json:"current_section"`
	CurrentQuestion   int             `json:"current_question"`
	PositionEnteredAt *time.Time      `json:"position_entered_at,omitempty"`
	TimeUsage         TimeUsage       `json:"time_usage"`
	FaceViolations    int             `json:"face_detection_violations"`
	TabSwitchCount    int             `json:"tab_switch_count"`
	CopyPasteAttempts int             `json:"copy_paste_attempts"`
	TotalScore        *float64        `json:"total_score,omitempty"`
	Percentage        *float64        `json:"percentage,omitempty"`
	PendingReview     int             `json:"pending_review"`
	Breakdown         *ScoreBreakdown `json:"breakdown,omitempty"`
}

// Clone returns a deep-enough copy so callers never share mutable pointers with the machine.
func (s *Session) Clone() *Session {
	c := *s
	c.StartedAt = cloneTime(s.StartedAt)
	c.SubmittedAt = cloneTime(s.SubmittedAt)
	c.EvaluatedAt = cloneTime(s.EvaluatedAt)
	c.PositionEnteredAt = cloneTime(s.PositionEnteredAt)
	c.TimeUsage = s.TimeUsage.Clone()
	if s.TotalScore != nil {
		v := *s.TotalScore
		c.TotalScore = &v
	}
	if s.Percentage != nil {
		v := *s.Percentage
		c.Percentage = &v
	}
	return &c
}

// TimeUsage is the time already spent per section (by order) and per timed
// coding question on earlier visits. The visit in progress is not included.
type TimeUsage struct {
	Sections  map[int]time.Duration       `json:"sections,omitempty"`
	Questions map[uuid.UUID]time.Duration `json:"questions,omitempty"`
}

// Section returns the banked time of a section.
func (u TimeUsage) Section(order int) time.Duration { return u.Sections[order] }

// Question returns the banked time of a question.
func (u TimeUsage) Question(id uuid.UUID) time.Duration { return u.Questions[id] }

// Clone copies both maps.
func (u TimeUsage) Clone() TimeUsage {
	return TimeUsage{Sections: maps.Clone(u.Sections), Questions: maps.Clone(u.Questions)}
}

// Add banks d against a section and, when question is not nil, a question.
func (u *TimeUsage) Add(section int, question uuid.UUID, d time.Duration) {
	if d <= 0 {
		return
	}
	if u.Sections == nil {
		u.Sections = make(map[int]time.Duration)
	}
	u.Sections[section] += d
	if question != uuid.Nil {
		if u.Questions == nil {
			u.Questions = make(map[uuid.UUID]time.Duration)
		}
		u.Questions[question] += d
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SessionState is the reload snapshot handed to the student's client.
type SessionState struct {
	SessionID         uuid.UUID                  `json:"session_id"`
	Status            SessionStatus              `json:"status"`
	RemainingSeconds  float64                    `json:"remaining_seconds"`
	Deadline          *time.Time                 `json:"deadline,omitempty"`
	SectionRemaining  *float64                   `json:"section_remaining_seconds,omitempty"`
	QuestionRemaining *float64                   `json:"question_remaining_seconds,omitempty"`
	ElapsedSeconds    int                        `json:"elapsed_seconds"`
	CurrentSection    int                        `json:"current_section"`
	CurrentQuestion   int                        `json:"current_question"`
	FaceViolations    int                        `json:"face_detection_violations"`
	TabSwitchCount    int                        `json:"tab_switch_count"`
	CopyPasteAttempts int                        `json:"copy_paste_attempts"`
	FaceWarning       bool                       `json:"face_warning"`
	Answers           map[uuid.UUID]AnswerRecord `json:"answers"`
}
