package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/session"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventStore is the bulk write path for replayed events.
type EventStore interface {
	AppendEvents(ctx context.Context, events []model.MonitoringEvent) error
}

// EventRecorder is the per-event path through the session machine.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev model.MonitoringEvent) error
}

// MonitoringWorker replays monitoring events that could not be written when
// they were raised. Event ids are fixed before parking, so a replay of an
// event that did land is a no-op.
type MonitoringWorker struct {
	store    EventStore
	recorder EventRecorder
	rdb      *redis.Client
	log      zerolog.Logger
}

func NewMonitoringWorker(store EventStore, recorder EventRecorder, rdb *redis.Client, log zerolog.Logger) *MonitoringWorker {
	return &MonitoringWorker{
		store:    store,
		recorder: recorder,
		rdb:      rdb,
		log:      log.With().Str("component", "monitoring_worker").Logger(),
	}
}

func (w *MonitoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("MonitoringWorker started")

	buffer := make([]model.MonitoringEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var ev model.MonitoringEvent
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			// Malformed payloads can never succeed.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, ev)
	}
}

// flushSafe tries the bulk insert, then event-by-event, then requeues.
func (w *MonitoringWorker) flushSafe(ctx context.Context, batch []model.MonitoringEvent) {
	err := w.store.AppendEvents(ctx, batch)
	if err == nil {
		w.log.Info().Int("count", len(batch)).Msg("Replayed parked events")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
	w.fallbackInsert(ctx, batch)
}

func (w *MonitoringWorker) fallbackInsert(ctx context.Context, batch []model.MonitoringEvent) {
	requeueList := make([]model.MonitoringEvent, 0)

	for _, ev := range batch {
		err := w.recorder.RecordEvent(ctx, ev)
		switch {
		case err == nil:
		case session.IsRetryable(err):
			w.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, ev)
		default:
			// Unknown session or one that no longer accepts events.
			w.log.Warn().Err(err).Str("session_id", ev.SessionID.String()).Msg("Dropping parked event")
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *MonitoringWorker) requeue(ctx context.Context, items []model.MonitoringEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	time.Sleep(2 * time.Second)
}

func (w *MonitoringWorker) shutdown(buffer []model.MonitoringEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
