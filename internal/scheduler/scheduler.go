package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/refresh"
)

// Refresher runs one full refresh cycle.
type Refresher interface {
	RunCycle(ctx context.Context) (refresh.Status, error)
}

// Scheduler periodically runs the full refresh cycle.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	cronExpr  string
	timeout   time.Duration
}

// New creates a Scheduler. A non-empty cronExpr takes precedence over interval.
func New(refresher Refresher, interval time.Duration, cronExpr string) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		refresher: refresher,
		interval:  interval,
		cronExpr:  cronExpr,
		timeout:   5 * time.Minute,
	}
}

// Start schedules the refresh job and starts the underlying scheduler.
// Interval schedules run once immediately.
func (s *Scheduler) Start() error {
	var job *gocron.Scheduler
	if s.cronExpr != "" {
		job = s.scheduler.Cron(s.cronExpr)
	} else {
		interval := s.interval
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		job = s.scheduler.Every(interval)
	}

	if _, err := job.Do(s.run); err != nil {
		return eris.Wrap(err, "scheduler: schedule refresh")
	}
	s.scheduler.StartAsync()
	zap.L().Info("scheduler started",
		zap.String("component", "scheduler"),
		zap.Duration("interval", s.interval),
		zap.String("cron", s.cronExpr))
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	log := zap.L().With(zap.String("component", "scheduler"))
	log.Debug("running refresh job")
	st, err := s.refresher.RunCycle(ctx)
	if err != nil {
		log.Error("refresh job failed", zap.String("cycle_id", st.CycleID), zap.Error(err))
		return
	}
	log.Info("refresh job completed", zap.String("cycle_id", st.CycleID), zap.String("outcome", st.Outcome))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
