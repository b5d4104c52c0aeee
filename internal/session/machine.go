// Package session owns the lifecycle of a student's attempt:
// enrolled → started → submitted → evaluated.
//
// Every mutation of one session (student actions, timer expiry, proctoring
// events, the deadline sweeper) is funnelled through a per-session queue drained
// by a single goroutine, so concurrent triggers serialize and the loser becomes
// a no-op. The store is written first; in-memory timers change only after the
// conditional write succeeded.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/clock"
	"github.com/stemsi/examguard-backend/internal/model"
)

const (
	defaultOpTimeout   = 10 * time.Second
	defaultIdleTimeout = 2 * time.Minute
	queueSize          = 64
)

// Grader scores a session's answers.
type Grader interface {
	Grade(ctx context.Context, a *model.Assessment, answers map[uuid.UUID]model.AnswerRecord) (*model.ScoreBreakdown, error)
}

// Hooks are called from the session's queue goroutine after a durable change.
// They must not block or call back into the machine synchronously.
type Hooks struct {
	OnStarted   func(s *model.Session, a *model.Assessment)
	OnSubmitted func(s *model.Session)
	OnEvaluated func(s *model.Session)
	OnEvent     func(s *model.Session, ev model.MonitoringEvent)
}

// Config tunes the machine.
type Config struct {
	FaceWarningThreshold int
	OpTimeout            time.Duration
	IdleTimeout          time.Duration
}

// Result is the outcome of a transition attempt. Applied is false when the
// attempt was a duplicate or would have moved the session backwards.
type Result struct {
	Session *model.Session
	Applied bool
}

// Machine is the authoritative owner of session state.
type Machine struct {
	store  Store
	grader Grader
	clk    clock.Clock
	hooks  Hooks
	cfg    Config
	log    zerolog.Logger

	mu          sync.Mutex
	actors      map[uuid.UUID]*actor
	assessments map[uuid.UUID]*model.Assessment
	closed      bool
	quit        chan struct{}
	wg          sync.WaitGroup
}

// NewMachine creates a machine. Call Resume once at startup and Close on shutdown.
func NewMachine(store Store, grader Grader, clk clock.Clock, hooks Hooks, cfg Config, log zerolog.Logger) *Machine {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.FaceWarningThreshold <= 0 {
		cfg.FaceWarningThreshold = 3
	}
	return &Machine{
		store:       store,
		grader:      grader,
		clk:         clk,
		hooks:       hooks,
		cfg:         cfg,
		log:         log.With().Str("component", "session_machine").Logger(),
		actors:      make(map[uuid.UUID]*actor),
		assessments: make(map[uuid.UUID]*model.Assessment),
		quit:        make(chan struct{}),
	}
}

// Close stops every queue and disarms all timers. Pending callers get ErrMachineClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.quit)
	m.mu.Unlock()

	m.wg.Wait()
}

// ActiveQueues returns the number of live per-session queues.
func (m *Machine) ActiveQueues() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// ─── Per-session queue ──────────────────────────────────────────────

type op struct {
	fn    func(ctx context.Context, a *actor) (Result, error)
	reply chan opReply
}

type opReply struct {
	res Result
	err error
}

type actor struct {
	id      uuid.UUID
	ops     chan op
	pending atomic.Int32
	timers  *clock.Set
	log     zerolog.Logger
}

// acquire returns the session's actor, starting it if needed, and registers
// the caller as pending so the actor does not retire underneath it.
func (m *Machine) acquire(id uuid.UUID) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrMachineClosed
	}

	a, ok := m.actors[id]
	if !ok {
		a = &actor{
			id:  id,
			ops: make(chan op, queueSize),
			log: m.log.With().Str("session_id", id.String()).Logger(),
		}
		m.actors[id] = a
		m.wg.Add(1)
		go m.run(a)
	}
	a.pending.Add(1)
	return a, nil
}

// do enqueues fn on the session's queue and waits for its result. Once
// accepted, fn runs to completion even if ctx is cancelled.
func (m *Machine) do(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, a *actor) (Result, error)) (Result, error) {
	a, err := m.acquire(id)
	if err != nil {
		return Result{}, err
	}

	reply := make(chan opReply, 1)
	select {
	case a.ops <- op{fn: fn, reply: reply}:
	case <-ctx.Done():
		a.pending.Add(-1)
		return Result{}, ctx.Err()
	case <-m.quit:
		a.pending.Add(-1)
		return Result{}, ErrMachineClosed
	}

	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-m.quit:
		return Result{}, ErrMachineClosed
	}
}

// post enqueues fn without waiting. Used by timer callbacks.
func (m *Machine) post(id uuid.UUID, fn func(ctx context.Context, a *actor) (Result, error)) {
	go func() {
		if _, err := m.do(context.Background(), id, fn); err != nil && !errors.Is(err, ErrMachineClosed) {
			m.log.Error().Err(err).Str("session_id", id.String()).Msg("Queued session operation failed")
		}
	}()
}

func (m *Machine) run(a *actor) {
	defer m.wg.Done()

	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-m.quit:
			if a.timers != nil {
				a.timers.Stop()
			}
			return

		case o := <-a.ops:
			a.pending.Add(-1)
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
			res, err := o.fn(ctx, a)
			cancel()
			o.reply <- opReply{res: res, err: err}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.IdleTimeout)

		case <-idle.C:
			if m.retire(a) {
				return
			}
			idle.Reset(m.cfg.IdleTimeout)
		}
	}
}

// retire removes an idle actor that has no armed timers and no waiting callers.
func (m *Machine) retire(a *actor) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.timers != nil || a.pending.Load() > 0 || len(a.ops) > 0 {
		return false
	}
	delete(m.actors, a.id)
	return true
}

// ─── Loading ────────────────────────────────────────────────────────

func (m *Machine) assessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	m.mu.Lock()
	a, ok := m.assessments[id]
	m.mu.Unlock()
	if ok {
		return a, nil
	}

	a, err := m.store.GetAssessment(ctx, id)
	if err != nil {
		return nil, persistErr("get_assessment", err)
	}
	// Only published definitions are immutable and safe to keep.
	if a.IsPublished {
		m.mu.Lock()
		m.assessments[id] = a
		m.mu.Unlock()
	}
	return a, nil
}

// ForgetAssessment drops a cached definition.
func (m *Machine) ForgetAssessment(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assessments, id)
}

func (m *Machine) load(ctx context.Context, id uuid.UUID) (*model.Session, *model.Assessment, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, persistErr("get_session", err)
	}
	a, err := m.assessment(ctx, s.AssessmentID)
	if err != nil {
		return nil, nil, err
	}
	return s, a, nil
}
