package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/session"
	"golang.org/x/sync/errgroup"
)

const (
	GradePollTimeout = 1 * time.Second
	GradeMaxAttempts = 5
	GradeRetryDelay  = 2 * time.Second
)

// Evaluator is the part of the session machine the grading worker drives.
type Evaluator interface {
	Evaluate(ctx context.Context, sessionID uuid.UUID) (session.Result, error)
}

// GradingWorker drains the grading queue and evaluates submitted sessions,
// a bounded number at a time. Failed jobs are retried and finally parked on
// the dead letter list.
type GradingWorker struct {
	evaluator   Evaluator
	rdb         *redis.Client
	concurrency int
	log         zerolog.Logger
}

func NewGradingWorker(evaluator Evaluator, rdb *redis.Client, concurrency int, log zerolog.Logger) *GradingWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &GradingWorker{
		evaluator:   evaluator,
		rdb:         rdb,
		concurrency: concurrency,
		log:         log.With().Str("component", "grading_worker").Logger(),
	}
}

func (w *GradingWorker) Start(ctx context.Context) {
	w.log.Info().Int("concurrency", w.concurrency).Msg("GradingWorker started")

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	defer func() {
		w.log.Info().Msg("Worker stopping, waiting for in-flight grading...")
		_ = g.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, GradePollTimeout, config.WorkerKey.GradingQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(item) < 2 {
			continue
		}

		var job model.GradingJob
		if err := json.Unmarshal([]byte(item[1]), &job); err != nil || job.SessionID == uuid.Nil {
			w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed grading job")
			continue
		}

		// Blocks while every slot is busy, which leaves the rest on the queue.
		g.Go(func() error {
			w.grade(ctx, job)
			return nil
		})
	}
}

func (w *GradingWorker) grade(ctx context.Context, job model.GradingJob) {
	// In-flight grading finishes even when shutdown begins.
	gradeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	log := w.log.With().Str("session_id", job.SessionID.String()).Int("attempt", job.Attempt).Logger()

	res, err := w.evaluator.Evaluate(gradeCtx, job.SessionID)
	if err == nil {
		if res.Applied {
			log.Debug().Msg("Graded")
		}
		return
	}
	if errors.Is(err, session.ErrNotFound) {
		log.Warn().Msg("Dropping grading job for unknown session")
		return
	}

	job.Attempt++
	if job.Attempt >= GradeMaxAttempts {
		log.Error().Err(err).Msg("Grading gave up, moving to dead letter")
		w.push(gradeCtx, config.WorkerKey.GradingDeadLetter, job)
		return
	}

	log.Warn().Err(err).Msg("Grading failed, requeueing")
	time.Sleep(GradeRetryDelay * time.Duration(job.Attempt))
	w.push(gradeCtx, config.WorkerKey.GradingQueue, job)
}

func (w *GradingWorker) push(ctx context.Context, queue string, job model.GradingJob) {
	data, _ := json.Marshal(job)
	if err := w.rdb.RPush(ctx, queue, data).Err(); err != nil {
		w.log.Error().Err(err).Str("session_id", job.SessionID.String()).Msg("CRITICAL: Failed to requeue grading job")
	}
}

// Enqueue adds sessions to the grading queue.
func Enqueue(ctx context.Context, rdb *redis.Client, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := rdb.Pipeline()
	for _, id := range ids {
		data, _ := json.Marshal(model.GradingJob{SessionID: id})
		pipe.RPush(ctx, config.WorkerKey.GradingQueue, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}
