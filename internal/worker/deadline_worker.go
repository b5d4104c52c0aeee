package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// Sweeper submits started sessions whose deadline passed without a timer firing.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// UngradedLister finds submitted sessions that were never evaluated.
type UngradedLister interface {
	ListUngraded(ctx context.Context, before time.Time) ([]model.Session, error)
}

// GradeStaleAfter is how long a submitted session may wait before it is requeued.
const GradeStaleAfter = 10 * time.Minute

// DeadlineWorker is the periodic safety net behind the in-process timers: it
// forces overdue sessions to submit and re-queues stuck grading jobs.
type DeadlineWorker struct {
	sweeper  Sweeper
	ungraded UngradedLister
	rdb      *redis.Client
	spec     string
	log      zerolog.Logger
	cron     *cron.Cron
	running  atomic.Bool
}

func NewDeadlineWorker(sweeper Sweeper, ungraded UngradedLister, rdb *redis.Client, spec string, log zerolog.Logger) *DeadlineWorker {
	return &DeadlineWorker{
		sweeper:  sweeper,
		ungraded: ungraded,
		rdb:      rdb,
		spec:     spec,
		log:      log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start schedules the sweep and blocks until ctx is done.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(w.spec, func() { w.Tick(ctx) }); err != nil {
		w.log.Error().Err(err).Str("spec", w.spec).Msg("Invalid sweep schedule, deadline worker disabled")
		return
	}
	w.cron.Start()
	w.log.Info().Str("spec", w.spec).Msg("DeadlineWorker started")

	<-ctx.Done()
	stopped := w.cron.Stop()
	<-stopped.Done()
	w.log.Info().Msg("DeadlineWorker stopped")
}

// Tick runs one sweep. Overlapping ticks are skipped.
func (w *DeadlineWorker) Tick(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug().Msg("Previous sweep still running, skipping")
		return
	}
	defer w.running.Store(false)

	if ctx.Err() != nil {
		return
	}

	submitted, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Deadline sweep failed")
	} else if submitted > 0 {
		w.log.Info().Int("submitted", submitted).Msg("Overdue sessions submitted")
	}

	stale, err := w.ungraded.ListUngraded(ctx, time.Now().Add(-GradeStaleAfter))
	if err != nil {
		w.log.Error().Err(err).Msg("List ungraded sessions failed")
		return
	}
	if len(stale) == 0 {
		return
	}

	ids := make([]uuid.UUID, len(stale))
	for i, s := range stale {
		ids[i] = s.ID
	}
	if err := Enqueue(ctx, w.rdb, ids...); err != nil {
		w.log.Error().Err(err).Int("count", len(ids)).Msg("Requeue ungraded sessions failed")
		return
	}
	w.log.Warn().Int("count", len(ids)).Msg("Requeued ungraded sessions")
}
