package queue

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/macleangm-debug/FieldForce/internal/models"
)

// Policy bounds how often and how quickly a job kind is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

var policies = map[models.JobKind]Policy{
	models.JobProcessSubmission: {MaxAttempts: 4, InitialInterval: 60 * time.Second, MaxInterval: 30 * time.Minute, Multiplier: 2, Jitter: 0.2},
	models.JobProcessBulk:       {MaxAttempts: 4, InitialInterval: 120 * time.Second, MaxInterval: 30 * time.Minute, Multiplier: 2, Jitter: 0.2},
	models.JobValidateMedia:     {MaxAttempts: 3, InitialInterval: 30 * time.Second, MaxInterval: 10 * time.Minute, Multiplier: 2, Jitter: 0.2},
	models.JobTriggerWebhooks:   {MaxAttempts: 3, InitialInterval: 30 * time.Second, MaxInterval: 10 * time.Minute, Multiplier: 2, Jitter: 0.2},
}

var defaultPolicy = Policy{MaxAttempts: 3, InitialInterval: 30 * time.Second, MaxInterval: 10 * time.Minute, Multiplier: 2, Jitter: 0.2}

func PolicyFor(kind models.JobKind) Policy {
	if p, ok := policies[kind]; ok {
		return p
	}
	return defaultPolicy
}

// BackOff builds a fresh exponential schedule that never gives up on its
// own; attempt limits are enforced by the caller.
func (p Policy) BackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the wait before the next run after the given number of
// completed attempts (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := p.BackOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
