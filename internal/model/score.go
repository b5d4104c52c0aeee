package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionOutcome classifies a graded question.
type QuestionOutcome string

const (
	OutcomeCorrect    QuestionOutcome = "correct"
	OutcomeIncorrect  QuestionOutcome = "incorrect"
	OutcomeUnanswered QuestionOutcome = "unanswered"
	OutcomePartial    QuestionOutcome = "partial"
	OutcomePending    QuestionOutcome = "pending"
	OutcomeReviewed   QuestionOutcome = "reviewed"
)

// TestCaseStatus is the verdict for one executed test case.
type TestCaseStatus string

const (
	TestPassed        TestCaseStatus = "passed"
	TestWrongAnswer   TestCaseStatus = "wrong_answer"
	TestTimeout       TestCaseStatus = "timeout"
	TestMemoryLimit   TestCaseStatus = "memory_limit_exceeded"
	TestRuntimeError  TestCaseStatus = "runtime_error"
	TestCompileError  TestCaseStatus = "compile_error"
	TestNotExecutable TestCaseStatus = "not_executed"
)

// TestCaseResult is the outcome of executing a submission against one test case.
// Hidden cases omit input and expected output when rendered for students.
type TestCaseResult struct {
	Index     int            `json:"index"`
	Status    TestCaseStatus `json:"status"`
	Points    float64        `json:"points"`
	Hidden    bool           `json:"hidden"`
	Stdout    string         `json:"stdout,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Detail    string         `json:"detail,omitempty"`
}

// Passed reports whether the test case counted.
func (r TestCaseResult) Passed() bool { return r.Status == TestPassed }

// QuestionScore is the score of a single question. Score is nil while pending review.
type QuestionScore struct {
	QuestionID  uuid.UUID        `json:"question_id"`
	Outcome     QuestionOutcome  `json:"outcome"`
	Score       *float64         `json:"score"`
	MaxScore    float64          `json:"max_score"`
	TestResults []TestCaseResult `json:"test_results,omitempty"`
}

// SectionScore aggregates question scores. Score is floored at zero.
type SectionScore struct {
	SectionID  uuid.UUID       `json:"section_id"`
	Type       SectionType     `json:"section_type"`
	RawScore   float64         `json:"raw_score"`
	Score      float64         `json:"score"`
	MaxScore   float64         `json:"max_score"`
	PendingMax float64         `json:"pending_max"`
	Questions  []QuestionScore `json:"questions"`
}

// ScoreBreakdown is the full grading result of a session.
type ScoreBreakdown struct {
	Sections      []SectionScore `json:"sections"`
	TotalScore    float64        `json:"total_score"`
	TotalMarks    float64        `json:"total_marks"`
	GradedMarks   float64        `json:"graded_marks"`
	Percentage    float64        `json:"percentage"`
	PendingReview int            `json:"pending_review"`
	GradedAt      time.Time      `json:"graded_at"`
}

// SessionResult is the finalized result handed to reporting consumers.
type SessionResult struct {
	SessionID     uuid.UUID       `json:"session_id"`
	Status        SessionStatus   `json:"status"`
	TotalScore    *float64        `json:"total_score,omitempty"`
	Percentage    *float64        `json:"percentage,omitempty"`
	PendingReview int             `json:"pending_review"`
	Breakdown     *ScoreBreakdown `json:"breakdown,omitempty"`
}
