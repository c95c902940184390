package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"golang.org/x/sync/errgroup"
)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
}

// Worker consumes jobs from a MongoQueue with a fixed number of goroutines.
type Worker struct {
	q        *MongoQueue
	handlers Registry
	kinds    []models.JobKind
	cfg      WorkerConfig
	id       string
	log      *slog.Logger
}

func NewWorker(q *MongoQueue, handlers Registry, cfg WorkerConfig, log *slog.Logger) *Worker {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	kinds := make([]models.JobKind, 0, len(handlers))
	for k := range handlers {
		kinds = append(kinds, k)
	}
	return &Worker{
		q:        q,
		handlers: handlers,
		kinds:    kinds,
		cfg:      cfg,
		id:       host + "-" + uuid.NewString()[:8],
		log:      log.With("worker", host),
	}
}

// Run polls until ctx is cancelled. In-flight jobs are allowed to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker: started", "concurrency", w.cfg.Concurrency, "id", w.id)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := fmt.Sprintf("%s/%d", w.id, i)
		g.Go(func() error {
			w.loop(ctx, slot)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("worker: stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot string) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.q.Claim(ctx, slot, w.kinds, w.cfg.Lease)
		if err != nil && ctx.Err() == nil {
			w.log.Warn("worker: claim failed", "err", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		w.process(context.WithoutCancel(ctx), slot, job)
	}
}

// process runs one claimed job. The job context is detached from shutdown
// and bounded by the lease so a drained job cannot outlive its claim.
func (w *Worker) process(ctx context.Context, slot string, job *models.Job) {
	log := w.log.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)
	start := time.Now()

	err := w.run(ctx, job)
	if err == nil {
		if cerr := w.q.Complete(ctx, job, slot); cerr != nil {
			log.Error("worker: mark done failed", "err", cerr)
			return
		}
		log.Debug("worker: job done", "took", time.Since(start).Round(time.Millisecond))
		return
	}

	dead, ferr := w.q.Fail(ctx, job, slot, err)
	switch {
	case ferr != nil:
		log.Error("worker: record failure failed", "err", ferr, "cause", err)
	case dead:
		log.Error("worker: job dead-lettered", "err", err)
	default:
		log.Warn("worker: job failed, will retry", "err", err)
	}
}

func (w *Worker) run(ctx context.Context, job *models.Job) (err error) {
	h, ok := w.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Lease)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job.Payload)
}
