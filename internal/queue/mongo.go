package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/macleangm-debug/FieldForce/internal/models"
)

// JobStore persists queue state.
type JobStore interface {
	Insert(ctx context.Context, job *models.Job) error
	Claim(ctx context.Context, workerID string, kinds []models.JobKind, now time.Time, lease time.Duration) (*models.Job, error)
	MarkDone(ctx context.Context, id, workerID string, now time.Time) error
	Reschedule(ctx context.Context, id, workerID, lastErr string, runAt, now time.Time) error
	MarkDead(ctx context.Context, id, workerID, lastErr string, now time.Time) error
	Requeue(ctx context.Context, id string, now time.Time) (bool, error)
	FindByID(ctx context.Context, id string) (*models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
}

// MongoQueue is a durable at-least-once queue backed by the jobs collection.
type MongoQueue struct {
	store JobStore
	log   *slog.Logger
	now   func() time.Time
}

func NewMongoQueue(store JobStore, log *slog.Logger) *MongoQueue {
	return &MongoQueue{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (q *MongoQueue) Async() bool { return true }

func (q *MongoQueue) Enqueue(ctx context.Context, kind models.JobKind, payload models.JobPayload) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	now := q.now()
	job := &models.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		Status:      models.JobQueued,
		MaxAttempts: PolicyFor(kind).MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return job.ID, nil
}

func (q *MongoQueue) Claim(ctx context.Context, workerID string, kinds []models.JobKind, lease time.Duration) (*models.Job, error) {
	return q.store.Claim(ctx, workerID, kinds, q.now(), lease)
}

func (q *MongoQueue) Complete(ctx context.Context, job *models.Job, workerID string) error {
	return q.store.MarkDone(ctx, job.ID, workerID, q.now())
}

// Fail records a failed attempt. The job is retried after the kind's backoff
// delay, or dead-lettered once attempts are exhausted or the error is
// permanent. It reports whether the job was dead-lettered.
func (q *MongoQueue) Fail(ctx context.Context, job *models.Job, workerID string, cause error) (bool, error) {
	now := q.now()
	msg := cause.Error()
	if _, perm := isPermanent(cause); perm || job.Attempts >= job.MaxAttempts {
		return true, q.store.MarkDead(ctx, job.ID, workerID, msg, now)
	}
	delay := PolicyFor(job.Kind).Delay(job.Attempts)
	return false, q.store.Reschedule(ctx, job.ID, workerID, msg, now.Add(delay), now)
}

func (q *MongoQueue) Get(ctx context.Context, id string) (*models.Job, error) {
	return q.store.FindByID(ctx, id)
}

func (q *MongoQueue) List(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	return q.store.ListByStatus(ctx, status, limit)
}

// Requeue gives a dead job a fresh attempt budget.
func (q *MongoQueue) Requeue(ctx context.Context, id string) (bool, error) {
	return q.store.Requeue(ctx, id, q.now())
}
