// Package webhook delivers submission notifications to org-configured URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	SignatureHeader = "X-FieldForce-Signature"
	EventHeader     = "X-FieldForce-Event"
)

type Deliverer struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

func NewDeliverer(timeout time.Duration, concurrency int) *Deliverer {
	return &Deliverer{
		client:      &http.Client{},
		timeout:     timeout,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// DeliverAll posts evt to every hook concurrently. Each delivery has its
// own timeout and its outcome is returned in hook order; one failure never
// affects another.
func (d *Deliverer) DeliverAll(ctx context.Context, hooks []models.Webhook, orgID string, evt models.WebhookEvent) []models.WebhookDelivery {
	out := make([]models.WebhookDelivery, len(hooks))
	body, err := json.Marshal(evt)
	if err != nil {
		for i, h := range hooks {
			out[i] = d.record(h, orgID, evt.SubmissionID, 0, err, 0)
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, h := range hooks {
		g.Go(func() error {
			out[i] = d.deliver(ctx, h, orgID, evt, body)
			return nil
		})
	}
	g.Wait()
	return out
}

func (d *Deliverer) deliver(ctx context.Context, h models.Webhook, orgID string, evt models.WebhookEvent, body []byte) models.WebhookDelivery {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return d.record(h, orgID, evt.SubmissionID, 0, err, time.Since(start))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, evt.Event)
	if h.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(h.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return d.record(h, orgID, evt.SubmissionID, 0, err, time.Since(start))
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	var statusErr error
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return d.record(h, orgID, evt.SubmissionID, resp.StatusCode, statusErr, time.Since(start))
}

func (d *Deliverer) record(h models.Webhook, orgID, submissionID string, code int, err error, took time.Duration) models.WebhookDelivery {
	rec := models.WebhookDelivery{
		ID:           uuid.NewString(),
		WebhookID:    h.ID,
		OrgID:        orgID,
		SubmissionID: submissionID,
		URL:          h.URL,
		StatusCode:   code,
		DurationMS:   took.Milliseconds(),
		DeliveredAt:  d.now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}
