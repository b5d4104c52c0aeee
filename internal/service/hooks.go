package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/session"
)

const hookTimeout = 5 * time.Second

// LifecycleHooks fans the machine's durable changes out to Redis: the
// deadline cache, the grading queue and the live monitor channel. Every
// side effect runs off the session queue goroutine.
type LifecycleHooks struct {
	rdb      *redis.Client
	sessions *SessionService
	monitor  *MonitorService
	proctor  atomic.Pointer[ProctorService]
	log      zerolog.Logger
}

// NewLifecycleHooks creates the hook set. The session service is attached
// later because it depends on the machine these hooks are given to.
func NewLifecycleHooks(rdb *redis.Client, monitor *MonitorService, log zerolog.Logger) *LifecycleHooks {
	return &LifecycleHooks{
		rdb:     rdb,
		monitor: monitor,
		log:     log.With().Str("component", "lifecycle_hooks").Logger(),
	}
}

// Attach wires the services built on top of the machine.
func (h *LifecycleHooks) Attach(sessions *SessionService, proctor *ProctorService) {
	h.sessions = sessions
	h.proctor.Store(proctor)
}

// Hooks returns the callbacks for session.NewMachine.
func (h *LifecycleHooks) Hooks() session.Hooks {
	return session.Hooks{
		OnStarted:   h.onStarted,
		OnSubmitted: h.onSubmitted,
		OnEvaluated: h.onEvaluated,
		OnEvent:     h.onEvent,
	}
}

func (h *LifecycleHooks) async(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (h *LifecycleHooks) onStarted(s *model.Session, a *model.Assessment) {
	h.async(func(ctx context.Context) {
		if deadline, _, ok := session.Deadline(a, s); ok && h.sessions != nil {
			h.sessions.CacheDeadline(ctx, s.ID, deadline)
		}
		h.monitor.Publish(ctx, s.AssessmentID, NewMonitorUpdate(UpdateStarted, s, nil, time.Now().UTC()))
	})
}

func (h *LifecycleHooks) onSubmitted(s *model.Session) {
	if p := h.proctor.Load(); p != nil {
		p.Forget(s.ID)
	}
	h.async(func(ctx context.Context) {
		if h.sessions != nil {
			at := time.Now()
			if s.SubmittedAt != nil {
				at = *s.SubmittedAt
			}
			h.sessions.CloseDeadline(ctx, s.ID, at)
		}
		data, _ := json.Marshal(model.GradingJob{SessionID: s.ID})
		if err := h.rdb.RPush(ctx, config.WorkerKey.GradingQueue, data).Err(); err != nil {
			// The deadline sweeper re-queues submitted sessions that never got graded.
			h.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Failed to enqueue grading job")
		}
		h.monitor.Publish(ctx, s.AssessmentID, NewMonitorUpdate(UpdateSubmitted, s, nil, time.Now().UTC()))
	})
}

func (h *LifecycleHooks) onEvaluated(s *model.Session) {
	h.async(func(ctx context.Context) {
		h.monitor.Publish(ctx, s.AssessmentID, NewMonitorUpdate(UpdateEvaluated, s, nil, time.Now().UTC()))
	})
}

func (h *LifecycleHooks) onEvent(s *model.Session, ev model.MonitoringEvent) {
	h.async(func(ctx context.Context) {
		h.monitor.Publish(ctx, s.AssessmentID, NewMonitorUpdate(UpdateEvent, s, &ev, ev.OccurredAt))
	})
}
