package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/clock"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/proctor"
	"github.com/stemsi/examguard-backend/internal/session"
)

var ErrUnknownSignal = errors.New("unknown proctoring signal")

// Signal kinds a client may report.
const (
	SignalPresence     = "presence"
	SignalTabSwitch    = "tab_switch"
	SignalCopyPaste    = "copy_paste"
	SignalCameraDenied = "camera_access_denied"
)

// ProctorStatus is what the student's client hears back after a report.
type ProctorStatus struct {
	Recorded       bool `json:"recorded"`
	FaceViolations int  `json:"face_detection_violations"`
	FaceWarning    bool `json:"face_warning"`
}

// EventRecorder persists a monitoring event and decides whether the session
// still accepts it. *session.Machine implements it.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev model.MonitoringEvent) error
}

// SessionSource reads the stored session and its assessment settings.
type SessionSource interface {
	Current(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	FaceDetection(ctx context.Context, assessmentID uuid.UUID) (bool, error)
}

// ProctorService routes client signals through per-session collectors and
// persists the resulting events via the session machine. Events that cannot be
// written right now are parked on a Redis list for the monitoring worker.
type ProctorService struct {
	machine  EventRecorder
	sessions SessionSource
	registry *proctor.Registry
	cfg      proctor.Config
	rdb      *redis.Client
	clk      clock.Clock
	log      zerolog.Logger
}

// NewProctorService creates a new ProctorService.
func NewProctorService(
	machine EventRecorder,
	sessions SessionSource,
	cfg proctor.Config,
	classifier proctor.PresenceClassifier,
	rdb *redis.Client,
	clk clock.Clock,
	log zerolog.Logger,
) *ProctorService {
	s := &ProctorService{
		machine:  machine,
		sessions: sessions,
		cfg:      cfg,
		rdb:      rdb,
		clk:      clk,
		log:      log.With().Str("component", "proctor_service").Logger(),
	}
	s.registry = proctor.NewRegistry(cfg, classifier, s, clk, log)
	return s
}

type clientInfoKey struct{}

type clientInfo struct {
	ip string
	ua string
}

// WithClient attaches the reporting client's address and user agent to ctx.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, clientInfo{ip: ip, ua: userAgent})
}

// RecordEvent implements proctor.Sink.
func (s *ProctorService) RecordEvent(ctx context.Context, ev model.MonitoringEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.clk.Now().UTC()
	}
	if ci, ok := ctx.Value(clientInfoKey{}).(clientInfo); ok {
		ev.IPAddress = ci.ip
		ev.UserAgent = ci.ua
	}

	err := s.machine.RecordEvent(ctx, ev)
	if err == nil || !session.IsRetryable(err) {
		return err
	}

	// The id is fixed above so a replay that races a late success is a no-op.
	if qerr := s.enqueue(ctx, ev); qerr != nil {
		s.log.Error().Err(qerr).Str("session_id", ev.SessionID.String()).Msg("CRITICAL: Event lost, queue unavailable")
		return err
	}
	s.log.Warn().Err(err).Str("session_id", ev.SessionID.String()).Msg("Event parked for replay")
	return nil
}

func (s *ProctorService) enqueue(ctx context.Context, ev model.MonitoringEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, data).Err()
}

// Report feeds one client signal to the session's collector. The stored
// status decides the route, never the caller's snapshot: once the session has
// left started, discrete signals go straight to the machine (kept for audit
// after submission) and presence samples are ignored.
func (s *ProctorService) Report(ctx context.Context, sess *model.Session, req *model.ReportEventRequest) (*ProctorStatus, error) {
	switch req.Type {
	case SignalPresence, SignalTabSwitch, SignalCopyPaste, SignalCameraDenied:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, req.Type)
	}

	var at time.Time
	if req.OccurredAt != nil {
		at = *req.OccurredAt
		if now := s.clk.Now(); at.After(now) {
			at = now
		}
	}

	c, current, err := s.collector(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return s.reportDirect(ctx, current, req, at)
	}

	recorded := true
	switch req.Type {
	case SignalPresence:
		recorded, err = c.Observe(ctx, proctor.Frame{Present: req.Present, Brightness: req.Brightness, At: at})
	case SignalTabSwitch:
		err = c.TabSwitch(ctx, at, req.Payload)
	case SignalCopyPaste:
		err = c.CopyPaste(ctx, at, req.Payload)
	case SignalCameraDenied:
		err = c.CameraDenied(ctx, at, cameraReason(req.Payload))
	}
	if err != nil {
		return nil, err
	}

	return &ProctorStatus{
		Recorded:       recorded,
		FaceViolations: c.FaceViolations(),
		FaceWarning:    c.Warning(),
	}, nil
}

// reportDirect records a signal for a session without a live collector.
func (s *ProctorService) reportDirect(ctx context.Context, current *model.Session, req *model.ReportEventRequest, at time.Time) (*ProctorStatus, error) {
	status := &ProctorStatus{
		FaceViolations: current.FaceViolations,
		FaceWarning:    s.Warns(current.FaceViolations),
	}

	ev := model.MonitoringEvent{SessionID: current.ID, Payload: req.Payload, OccurredAt: at}
	switch req.Type {
	case SignalPresence:
		return status, nil
	case SignalTabSwitch:
		ev.Type = model.EventTabSwitch
	case SignalCopyPaste:
		ev.Type = model.EventCopyPaste
	case SignalCameraDenied:
		ev.Type = model.EventCameraAccessDenied
		ev.Payload, _ = json.Marshal(map[string]any{"error": cameraReason(req.Payload)})
	}

	if err := s.RecordEvent(ctx, ev); err != nil {
		return nil, err
	}
	status.Recorded = true
	return status, nil
}

// collector returns the live collector of a started session, creating it on
// first use. For any other stored status it returns nil and the session.
func (s *ProctorService) collector(ctx context.Context, sessionID uuid.UUID) (*proctor.Collector, *model.Session, error) {
	if c, ok := s.registry.Get(sessionID); ok {
		return c, nil, nil
	}

	current, err := s.sessions.Current(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if current.Status != model.SessionStarted {
		return nil, current, nil
	}
	visual, err := s.sessions.FaceDetection(ctx, current.AssessmentID)
	if err != nil {
		return nil, nil, err
	}
	c := s.registry.Ensure(sessionID, visual, current.FaceViolations)

	// A submit committed between the read and Ensure already ran its Forget;
	// re-reading catches it so the collector is not left behind.
	after, err := s.sessions.Current(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if after.Status != model.SessionStarted {
		s.registry.Drop(sessionID)
		return nil, after, nil
	}
	return c, nil, nil
}

func cameraReason(payload json.RawMessage) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if len(payload) > 0 && json.Unmarshal(payload, &body) == nil && body.Reason != "" {
		return body.Reason
	}
	return "permission_denied"
}

// Forget drops a finished session's collector.
func (s *ProctorService) Forget(sessionID uuid.UUID) {
	s.registry.Drop(sessionID)
}

// Warns reports whether a face violation count has reached the warning threshold.
func (s *ProctorService) Warns(faceViolations int) bool {
	return s.cfg.WarnThreshold > 0 && faceViolations >= s.cfg.WarnThreshold
}

// Tracked returns how many sessions have a live collector.
func (s *ProctorService) Tracked() int {
	return s.registry.Len()
}

// Watch pulls presence samples from src until ctx ends or the camera is lost.
func (s *ProctorService) Watch(ctx context.Context, sess *model.Session, src proctor.FrameSource) error {
	c, _, err := s.collector(ctx, sess.ID)
	if err != nil {
		return err
	}
	if c == nil {
		return session.ErrEventsClosed
	}
	go c.Run(ctx, src)
	return nil
}
