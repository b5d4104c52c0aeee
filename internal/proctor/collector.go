// Package proctor turns raw integrity signals (presence samples, tab switches,
// clipboard events, camera failures) into debounced monitoring events.
package proctor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/clock"
	"github.com/stemsi/examguard-backend/internal/model"
)

// ErrCameraUnavailable is returned by a FrameSource when camera access was denied.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Sink receives every violation the collector raises.
type Sink interface {
	RecordEvent(ctx context.Context, ev model.MonitoringEvent) error
}

// FrameSource yields presence samples for pull-mode sampling.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Config controls sampling and debouncing.
type Config struct {
	Interval      time.Duration
	Cooldown      time.Duration
	WarnThreshold int
}

// DefaultConfig samples at 1 Hz with a 3 second absence cooldown and warns after 3 violations.
var DefaultConfig = Config{
	Interval:      time.Second,
	Cooldown:      3 * time.Second,
	WarnThreshold: 3,
}

// Collector debounces signals for one session.
type Collector struct {
	sessionID  uuid.UUID
	cfg        Config
	classifier PresenceClassifier
	sink       Sink
	clk        clock.Clock
	log        zerolog.Logger

	mu             sync.Mutex
	visual         bool
	absentSince    *time.Time
	windowStart    time.Time
	faceViolations int
}

// NewCollector creates a collector. visual enables presence sampling;
// priorFaceViolations seeds the warning counter when resuming a session.
func NewCollector(
	sessionID uuid.UUID,
	cfg Config,
	classifier PresenceClassifier,
	sink Sink,
	clk clock.Clock,
	log zerolog.Logger,
	visual bool,
	priorFaceViolations int,
) *Collector {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &Collector{
		sessionID:      sessionID,
		cfg:            cfg,
		classifier:     classifier,
		sink:           sink,
		clk:            clk,
		log:            log.With().Str("component", "proctor_collector").Str("session_id", sessionID.String()).Logger(),
		visual:         visual,
		faceViolations: priorFaceViolations,
	}
}

// Observe classifies one presence sample and raises face_not_detected once
// absence has lasted at least the cooldown. The window re-arms after each raise.
func (c *Collector) Observe(ctx context.Context, f Frame) (bool, error) {
	at := f.At
	if at.IsZero() {
		at = c.clk.Now()
	}

	c.mu.Lock()
	visual := c.visual
	c.mu.Unlock()
	if !visual {
		return false, nil
	}

	present, err := c.classifier.Classify(f)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if present {
		c.absentSince = nil
		c.mu.Unlock()
		return false, nil
	}
	if c.absentSince == nil {
		start := at
		c.absentSince = &start
		c.windowStart = at
	}
	if at.Sub(c.windowStart) < c.cfg.Cooldown {
		c.mu.Unlock()
		return false, nil
	}
	c.windowStart = at
	c.faceViolations++
	absentFor := at.Sub(*c.absentSince)
	count := c.faceViolations
	c.mu.Unlock()

	return true, c.emit(ctx, model.EventFaceNotDetected, at, map[string]any{
		"absent_ms":       absentFor.Milliseconds(),
		"violation_count": count,
	})
}

// TabSwitch raises one tab_switch violation.
func (c *Collector) TabSwitch(ctx context.Context, at time.Time, payload json.RawMessage) error {
	return c.emitRaw(ctx, model.EventTabSwitch, at, payload)
}

// CopyPaste raises one copy_paste violation.
func (c *Collector) CopyPaste(ctx context.Context, at time.Time, payload json.RawMessage) error {
	return c.emitRaw(ctx, model.EventCopyPaste, at, payload)
}

// CameraDenied records the permission failure and turns visual monitoring off.
// The session itself continues.
func (c *Collector) CameraDenied(ctx context.Context, at time.Time, reason string) error {
	c.mu.Lock()
	c.visual = false
	c.absentSince = nil
	c.mu.Unlock()

	c.log.Warn().Str("reason", reason).Msg("Camera access denied, visual monitoring disabled")
	return c.emit(ctx, model.EventCameraAccessDenied, at, map[string]any{"error": reason})
}

// Visual reports whether presence sampling is active.
func (c *Collector) Visual() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visual
}

// FaceViolations returns the cumulative face violation count.
func (c *Collector) FaceViolations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faceViolations
}

// Warning reports whether the persistent presence warning must be shown.
func (c *Collector) Warning() bool {
	return c.cfg.WarnThreshold > 0 && c.FaceViolations() >= c.cfg.WarnThreshold
}

// Run samples src at the configured interval until ctx is done or the camera
// becomes unavailable.
func (c *Collector) Run(ctx context.Context, src FrameSource) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.Visual() {
			return
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrCameraUnavailable) {
				if err := c.CameraDenied(ctx, c.clk.Now(), err.Error()); err != nil {
					c.log.Error().Err(err).Msg("Record camera denial failed")
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Debug().Err(err).Msg("Frame capture failed, skipping sample")
			continue
		}

		if _, err := c.Observe(ctx, frame); err != nil {
			c.log.Error().Err(err).Msg("Presence sample dropped")
		}
	}
}

func (c *Collector) emit(ctx context.Context, typ model.EventType, at time.Time, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.emitRaw(ctx, typ, at, raw)
}

func (c *Collector) emitRaw(ctx context.Context, typ model.EventType, at time.Time, payload json.RawMessage) error {
	if at.IsZero() {
		at = c.clk.Now()
	}
	ev := model.MonitoringEvent{
		ID:         uuid.New(),
		SessionID:  c.sessionID,
		Type:       typ,
		Payload:    payload,
		OccurredAt: at,
	}
	if err := c.sink.RecordEvent(ctx, ev); err != nil {
		return err
	}
	c.log.Debug().Str("event_type", string(typ)).Msg("Violation recorded")
	return nil
}
