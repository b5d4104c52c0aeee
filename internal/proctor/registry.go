package proctor

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/clock"
)

// Registry keeps one collector per active session.
type Registry struct {
	cfg        Config
	classifier PresenceClassifier
	sink       Sink
	clk        clock.Clock
	log        zerolog.Logger

	mu         sync.Mutex
	collectors map[uuid.UUID]*Collector
}

// NewRegistry creates an empty registry sharing one sink and classifier.
func NewRegistry(cfg Config, classifier PresenceClassifier, sink Sink, clk clock.Clock, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:        cfg,
		classifier: classifier,
		sink:       sink,
		clk:        clk,
		log:        log,
		collectors: make(map[uuid.UUID]*Collector),
	}
}

// Ensure returns the session's collector, creating it on first use.
func (r *Registry) Ensure(sessionID uuid.UUID, visual bool, priorFaceViolations int) *Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collectors[sessionID]; ok {
		return c
	}
	c := NewCollector(sessionID, r.cfg, r.classifier, r.sink, r.clk, r.log, visual, priorFaceViolations)
	r.collectors[sessionID] = c
	return c
}

// Get returns an existing collector.
func (r *Registry) Get(sessionID uuid.UUID) (*Collector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collectors[sessionID]
	return c, ok
}

// Drop forgets a session's collector.
func (r *Registry) Drop(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collectors, sessionID)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collectors)
}
