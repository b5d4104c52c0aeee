package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/proctor"
	"github.com/stemsi/examguard-backend/internal/service"
	ws "github.com/stemsi/examguard-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an attempt over one socket: autosave, navigation,
// proctoring signals, submit, and server pushes when a timer ends the attempt.
type WSHandler struct {
	sessionService *service.SessionService
	proctorService *service.ProctorService
	monitorService *service.MonitorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	sessionService *service.SessionService,
	proctorService *service.ProctorService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		proctorService: proctorService,
		monitorService: monitorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// frameQueue feeds pushed presence samples to a collector running in pull mode.
type frameQueue chan proctor.Frame

func (q frameQueue) Next(ctx context.Context) (proctor.Frame, error) {
	select {
	case <-ctx.Done():
		return proctor.Frame{}, ctx.Err()
	case f, ok := <-q:
		if !ok {
			return proctor.Frame{}, io.EOF
		}
		return f, nil
	}
}

// SessionStream godoc
// WS /ws/v1/student/assessments/:id/stream?token=...
func (h *WSHandler) SessionStream(c *gin.Context) {
	sess := middleware.GetSession(c)
	if sess.Status == model.SessionEnrolled {
		c.JSON(http.StatusConflict, gin.H{"error": "start the assessment first"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	ctx, cancel := context.WithCancel(service.WithClient(context.Background(), c.ClientIP(), c.Request.UserAgent()))
	defer cancel()

	wsLog := h.log.With().
		Int("student_id", sess.StudentID).
		Str("session_id", sess.ID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	state, err := h.sessionService.State(ctx, sess.ID)
	if err != nil {
		h.writeErr(conn, err)
		return
	}
	conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: state})

	go h.forwardUpdates(ctx, conn, sess, wsLog)

	frames := make(frameQueue, 4)
	if state.Status == model.SessionStarted {
		if err := h.proctorService.Watch(ctx, sess, frames); err != nil {
			wsLog.Warn().Err(err).Msg("Presence sampling not started")
		}
	}

	for {
		var msg ws.RequestPayload
		if err := conn.ReadRequest(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, sess, &msg)
		case ws.ActionNavigate:
			h.handleNavigate(ctx, conn, sess, &msg)
		case ws.ActionEvent:
			h.handleEvent(ctx, conn, sess, frames, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, sess, wsLog)
		case ws.ActionPing:
			h.handlePing(ctx, conn, sess)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("", "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) writeErr(conn *ws.Conn, err error) {
	_, code := classify(err)
	conn.WriteError(string(code), err.Error())
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, sess *model.Session, msg *ws.RequestPayload) {
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		conn.WriteError("INVALID_ID", "invalid question_id format")
		return
	}

	res, err := h.sessionService.SaveAnswer(ctx, sess.ID, questionID, &model.SaveAnswerRequest{
		Value:           msg.Value,
		ClientTimestamp: msg.ClientTimestamp,
	})
	if err != nil {
		h.writeErr(conn, err)
		return
	}
	conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: questionID, Applied: res.Applied})
}

func (h *WSHandler) handleNavigate(ctx context.Context, conn *ws.Conn, sess *model.Session, msg *ws.RequestPayload) {
	res, err := h.sessionService.Navigate(ctx, sess.ID, msg.Section, msg.Question)
	if err != nil {
		h.writeErr(conn, err)
		return
	}
	conn.WriteTyped(ws.PositionResponse{
		Event:    ws.EventPosition,
		Section:  res.Session.CurrentSection,
		Question: res.Session.CurrentQuestion,
	})
}

// handleEvent queues presence samples for the sampler and reports every other
// signal immediately.
func (h *WSHandler) handleEvent(ctx context.Context, conn *ws.Conn, sess *model.Session, frames frameQueue, msg *ws.RequestPayload) {
	if msg.EventType == service.SignalPresence {
		f := proctor.Frame{Present: msg.Present, Brightness: msg.Brightness}
		if msg.OccurredAt != nil {
			f.At = *msg.OccurredAt
		}
		select {
		case frames <- f:
		default:
			// Sampler is behind; the next sample supersedes this one.
		}
		return
	}

	status, err := h.proctorService.Report(ctx, sess, &model.ReportEventRequest{
		Type:       msg.EventType,
		Payload:    msg.Payload,
		OccurredAt: msg.OccurredAt,
	})
	if err != nil {
		h.writeErr(conn, err)
		return
	}
	conn.WriteTyped(ws.ProctorResponse{
		Event:          ws.EventProctor,
		Recorded:       status.Recorded,
		FaceViolations: status.FaceViolations,
		FaceWarning:    status.FaceWarning,
	})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, sess *model.Session, wsLog zerolog.Logger) {
	res, err := h.sessionService.Submit(ctx, sess.ID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Submit failed")
		h.writeErr(conn, err)
		return
	}
	conn.WriteTyped(ws.SubmittedResponse{
		Event:   ws.EventSubmitted,
		Status:  res.Session.Status,
		Reason:  res.Session.SubmitReason,
		Applied: res.Applied,
	})
}

func (h *WSHandler) handlePing(ctx context.Context, conn *ws.Conn, sess *model.Session) {
	now := time.Now()
	remaining, err := h.sessionService.Remaining(ctx, sess.ID, now)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.writeErr(conn, err)
		return
	}
	conn.WriteTyped(ws.PongResponse{Event: ws.EventPong, ServerTime: now.UTC(), RemainingSeconds: remaining.Seconds()})
}

// forwardUpdates relays this session's lifecycle changes from its own update
// channel, so a timer-forced submit reaches the client without polling.
func (h *WSHandler) forwardUpdates(ctx context.Context, conn *ws.Conn, sess *model.Session, wsLog zerolog.Logger) {
	pubsub := h.monitorService.SubscribeSession(ctx, sess.ID)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var u service.MonitorUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil || u.SessionID != sess.ID {
				continue
			}

			var err error
			switch u.Type {
			case service.UpdateSubmitted:
				err = conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Status: u.Status, Applied: true})
			case service.UpdateEvaluated:
				err = conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventEvaluated, Status: u.Status, Applied: true})
			case service.UpdateEvent:
				if u.Event == nil || u.Event.Type != model.EventFaceNotDetected {
					continue
				}
				err = conn.WriteTyped(ws.ProctorResponse{
					Event:          ws.EventProctor,
					Recorded:       true,
					FaceViolations: u.FaceViolations,
					FaceWarning:    h.proctorService.Warns(u.FaceViolations),
				})
			}
			if err != nil {
				wsLog.Debug().Err(err).Msg("Push to client failed")
				return
			}
		}
	}
}
