// Package events publishes submission lifecycle events to an MQTT feed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	SubmissionCreated  = "submission.created"
	SubmissionReviewed = "submission.reviewed"
)

type Publisher interface {
	Publish(ctx context.Context, orgID, event string, payload any) error
	Close()
}

// Topic builds <prefix>/orgs/<org_id>/<event>.
func Topic(prefix, orgID, event string) string {
	parts := []string{"orgs", orgID, event}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append([]string{p}, parts...)
	}
	return strings.Join(parts, "/")
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }
func (NoopPublisher) Close()                                             {}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// PublishWait bounds how long Publish waits for the broker ack.
	PublishWait time.Duration
}

type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	log    *slog.Logger
}

var errPublishTimeout = errors.New("mqtt: publish timed out")

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after the initial connection succeeds.
func NewMQTTPublisher(cfg MQTTConfig, log *slog.Logger) (*MQTTPublisher, error) {
	if cfg.PublishWait <= 0 {
		cfg.PublishWait = 2 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(fmt.Sprintf("%s-%d", cfg.ClientID, time.Now().UnixNano())).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt: connection lost", "err", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	log.Info("mqtt: connected", "broker", cfg.Broker)
	return &MQTTPublisher{client: client, cfg: cfg, log: log}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, orgID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s: %w", event, err)
	}
	wait := p.cfg.PublishWait
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	token := p.client.Publish(Topic(p.cfg.TopicPrefix, orgID, event), 1, false, data)
	if !token.WaitTimeout(wait) {
		return errPublishTimeout
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
