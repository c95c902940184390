// Package queue dispatches background jobs for submissions.
package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff"
	"github.com/macleangm-debug/FieldForce/internal/models"
)

// Dispatcher hands work to the background pipeline.
type Dispatcher interface {
	// Enqueue schedules one job and returns its tracking id.
	Enqueue(ctx context.Context, kind models.JobKind, payload models.JobPayload) (string, error)
	// Async reports whether enqueued work actually runs later. When false,
	// callers do the work inline.
	Async() bool
}

// Handler runs one job. Returning a *backoff.PermanentError ends the job
// without further retries.
type Handler func(ctx context.Context, payload models.JobPayload) error

type Registry map[models.JobKind]Handler

var (
	ErrUnknownKind = errors.New("queue: no handler for job kind")
	ErrClosed      = errors.New("queue: dispatcher closed")
	ErrFull        = errors.New("queue: buffer full")
)

func isPermanent(err error) (*backoff.PermanentError, bool) {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm, true
	}
	return nil, false
}

// NoopDispatcher drops every job. Used when no queue is configured.
type NoopDispatcher struct {
	log *slog.Logger
}

func NewNoopDispatcher(log *slog.Logger) *NoopDispatcher {
	return &NoopDispatcher{log: log}
}

func (d *NoopDispatcher) Enqueue(_ context.Context, kind models.JobKind, payload models.JobPayload) (string, error) {
	d.log.Debug("queue: dropping job", "kind", kind, "submission_id", payload.SubmissionID, "batch", len(payload.SubmissionIDs))
	return "", nil
}

func (d *NoopDispatcher) Async() bool { return false }
