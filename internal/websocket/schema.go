package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionNavigate Action = "navigate"
	ActionEvent    Action = "event"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is the union of every client message. Only the fields of
// the named action are read.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QuestionID      string            `json:"question_id,omitempty"`
	Value           model.AnswerValue `json:"value"`
	ClientTimestamp *time.Time        `json:"client_timestamp,omitempty"`

	// navigate
	Section  int `json:"section,omitempty"`
	Question int `json:"question,omitempty"`

	// event
	EventType  string          `json:"event_type,omitempty"`
	Present    *bool           `json:"present,omitempty"`
	Brightness *float64        `json:"brightness,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventState     Event = "state"
	EventSaved     Event = "saved"
	EventPosition  Event = "position"
	EventProctor   Event = "proctor"
	EventSubmitted Event = "submitted"
	EventEvaluated Event = "evaluated"
	EventPong      Event = "pong"
)

type StateResponse struct {
	Event Event               `json:"event"`
	State *model.SessionState `json:"state"`
}

type SavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
	Applied    bool      `json:"applied"`
}

type PositionResponse struct {
	Event    Event `json:"event"`
	Section  int   `json:"section"`
	Question int   `json:"question"`
}

type ProctorResponse struct {
	Event          Event `json:"event"`
	Recorded       bool  `json:"recorded"`
	FaceViolations int   `json:"face_detection_violations"`
	FaceWarning    bool  `json:"face_warning"`
}

type SubmittedResponse struct {
	Event   Event               `json:"event"`
	Status  model.SessionStatus `json:"status"`
	Reason  model.SubmitReason  `json:"reason,omitempty"`
	Applied bool                `json:"applied"`
}

type PongResponse struct {
	Event            Event     `json:"event"`
	ServerTime       time.Time `json:"server_time"`
	RemainingSeconds float64   `json:"remaining_seconds"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}
