package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/macleangm-debug/FieldForce/internal/models"
)

type task struct {
	id      string
	kind    models.JobKind
	payload models.JobPayload
}

// InlineDispatcher runs jobs in-process on a bounded pool of goroutines with
// the same retry policies as the durable queue. Jobs are lost on restart.
type InlineDispatcher struct {
	handlers Registry
	tasks    chan task
	log      *slog.Logger

	// delay overrides Policy.Delay in tests.
	delay func(Policy) backoff.BackOff

	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewInlineDispatcher(handlers Registry, workers, buffer int, log *slog.Logger) *InlineDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &InlineDispatcher{
		handlers: handlers,
		tasks:    make(chan task, buffer),
		log:      log,
		delay:    func(p Policy) backoff.BackOff { return p.BackOff() },
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	return d
}

func (d *InlineDispatcher) Async() bool { return true }

// Enqueue never blocks; a full buffer is reported as ErrFull.
func (d *InlineDispatcher) Enqueue(_ context.Context, kind models.JobKind, payload models.JobPayload) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrClosed
	}
	t := task{id: uuid.NewString(), kind: kind, payload: payload}
	select {
	case d.tasks <- t:
		return t.id, nil
	default:
		return "", ErrFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish. Retries
// still waiting on backoff are abandoned once ctx is done.
func (d *InlineDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *InlineDispatcher) loop() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.run(t)
	}
}

func (d *InlineDispatcher) run(t task) {
	log := d.log.With("job_id", t.id, "kind", t.kind)
	h, ok := d.handlers[t.kind]
	if !ok {
		log.Error("queue: no handler registered")
		return
	}
	p := PolicyFor(t.kind)
	b := backoff.WithContext(backoff.WithMaxRetries(d.delay(p), uint64(p.MaxAttempts-1)), d.ctx)

	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, 10*time.Minute)
		defer cancel()
		err := h(ctx, t.payload)
		if perm, ok := isPermanent(err); ok {
			return perm
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("queue: job failed, will retry", "attempt", attempt, "err", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		log.Error("queue: job abandoned", "attempts", attempt, "err", err)
	}
}
