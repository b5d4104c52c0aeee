package model

import "github.com/google/uuid"

// GradingJob is the payload on the grading queue.
type GradingJob struct {
	SessionID uuid.UUID `json:"session_id"`
	Attempt   int       `json:"attempt"`
}
