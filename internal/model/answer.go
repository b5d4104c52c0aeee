package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerValue is the submitted value; only the field matching the question type is read.
type AnswerValue struct {
	Selected []int  `json:"selected,omitempty"`
	Text     string `json:"text,omitempty"`
	Code     string `json:"code,omitempty"`
}

// AnswerRecord is one answer per (session, question), last-write-wins by ClientTimestamp.
type AnswerRecord struct {
	SessionID       uuid.UUID        `json:"session_id"`
	QuestionID      uuid.UUID        `json:"question_id"`
	Value           AnswerValue      `json:"value"`
	ClientTimestamp time.Time        `json:"client_timestamp"`
	UpdatedAt       time.Time        `json:"updated_at"`
	TestResults     []TestCaseResult `json:"test_results,omitempty"`
	ManualScore     *float64         `json:"manual_score,omitempty"`
	ReviewedBy      *int             `json:"reviewed_by,omitempty"`
}

// SaveAnswerRequest is the autosave payload.
type SaveAnswerRequest struct {
	Value           AnswerValue `json:"value"`
	ClientTimestamp *time.Time  `json:"client_timestamp"`
}

// ReviewAnswerRequest assigns a human score to a free-text answer.
type ReviewAnswerRequest struct {
	Score *float64 `json:"score" binding:"required,gte=0"`
}
