package models

import "time"

const EventSubmissionCreated = "submission.created"

type Webhook struct {
	ID      string `bson:"id" json:"id"`
	OrgID   string `bson:"org_id" json:"org_id"`
	URL     string `bson:"url" json:"url"`
	Event   string `bson:"event" json:"event"`
	Enabled bool   `bson:"enabled" json:"enabled"`
	Secret  string `bson:"secret,omitempty" json:"-"`
}

// WebhookEvent is the fixed payload delivered to every destination.
type WebhookEvent struct {
	Event        string    `json:"event"`
	SubmissionID string    `json:"submission_id"`
	FormID       string    `json:"form_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// WebhookDelivery is the recorded outcome of one delivery. StatusCode is zero
// when the request never got a response.
type WebhookDelivery struct {
	ID           string    `bson:"id" json:"id"`
	WebhookID    string    `bson:"webhook_id" json:"webhook_id"`
	OrgID        string    `bson:"org_id" json:"org_id"`
	SubmissionID string    `bson:"submission_id" json:"submission_id"`
	URL          string    `bson:"url" json:"url"`
	StatusCode   int       `bson:"status_code,omitempty" json:"status_code,omitempty"`
	Error        string    `bson:"error,omitempty" json:"error,omitempty"`
	DurationMS   int64     `bson:"duration_ms" json:"duration_ms"`
	DeliveredAt  time.Time `bson:"delivered_at" json:"delivered_at"`
}

func (d WebhookDelivery) OK() bool {
	return d.Error == "" && d.StatusCode >= 200 && d.StatusCode < 300
}
