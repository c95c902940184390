package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Schedules struct {
	Hourly    string
	Daily     string
	Retention string
}

// Scheduler runs the aggregator on cron schedules. A run that is still going
// when its next tick fires causes that tick to be skipped.
type Scheduler struct {
	agg     *Aggregator
	cron    *cron.Cron
	log     *slog.Logger
	timeout time.Duration
}

func NewScheduler(agg *Aggregator, sched Schedules, log *slog.Logger) (*Scheduler, error) {
	cl := cronLogger{log: log}
	s := &Scheduler{
		agg:     agg,
		log:     log,
		timeout: 30 * time.Minute,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	jobs := []struct {
		name, spec string
		run        func(ctx context.Context, now time.Time) error
	}{
		{"hourly", sched.Hourly, func(ctx context.Context, now time.Time) error {
			_, err := agg.RunHourly(ctx, PreviousHour(now))
			return err
		}},
		{"daily", sched.Daily, func(ctx context.Context, now time.Time) error {
			_, err := agg.RunDaily(ctx, PreviousDay(now))
			return err
		}},
		{"retention", sched.Retention, func(ctx context.Context, now time.Time) error {
			_, err := agg.Retention(ctx, now)
			return err
		}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		log.Info("scheduler: registered", "job", j.name, "spec", j.spec)
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context, time.Time) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx, start.UTC()); err != nil {
			s.log.Error("scheduler: job failed", "job", name, "err", err)
			return
		}
		s.log.Debug("scheduler: job done", "job", name, "took", time.Since(start))
	}
}

// Run starts the schedules and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kv, "err", err)...)
}
