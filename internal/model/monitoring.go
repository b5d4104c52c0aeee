package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a monitoring event.
type EventType string

const (
	EventFaceNotDetected    EventType = "face_not_detected"
	EventCameraAccessDenied EventType = "camera_access_denied"
	EventTabSwitch          EventType = "tab_switch"
	EventCopyPaste          EventType = "copy_paste"
	EventSessionResumed     EventType = "session_resumed"
	EventForcedSubmit       EventType = "forced_submit"
)

// Counter names the session counter an event increments, if any.
type Counter string

const (
	CounterNone      Counter = ""
	CounterFace      Counter = "face"
	CounterTabSwitch Counter = "tab_switch"
	CounterCopyPaste Counter = "copy_paste"
)

// Counter returns the running counter the event type bumps.
func (t EventType) Counter() Counter {
	switch t {
	case EventFaceNotDetected:
		return CounterFace
	case EventTabSwitch:
		return CounterTabSwitch
	case EventCopyPaste:
		return CounterCopyPaste
	}
	return CounterNone
}

// IsViolation reports whether the event is an integrity violation.
func (t EventType) IsViolation() bool {
	switch t {
	case EventFaceNotDetected, EventCameraAccessDenied, EventTabSwitch, EventCopyPaste:
		return true
	}
	return false
}

// MonitoringEvent is an append-only log entry.
type MonitoringEvent struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	Type       EventType       `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ReportEventRequest is a client-reported proctoring signal.
type ReportEventRequest struct {
	Type       string          `json:"event_type" binding:"required,oneof=tab_switch copy_paste camera_access_denied presence"`
	Present    *bool           `json:"present"`
	Brightness *float64        `json:"brightness"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt *time.Time      `json:"occurred_at"`
}
