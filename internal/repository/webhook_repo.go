package repository

import (
	"context"

	"github.com/macleangm-debug/FieldForce/internal/db"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	WebhooksCollection   = "webhooks"
	DeliveriesCollection = "webhook_deliveries"
)

type WebhookRepo struct {
	hooks      *mongo.Collection
	deliveries *mongo.Collection
}

func NewWebhookRepo(store *db.Store) *WebhookRepo {
	return &WebhookRepo{
		hooks:      store.Collection(WebhooksCollection),
		deliveries: store.Collection(DeliveriesCollection),
	}
}

func (r *WebhookRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.deliveries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		uniqueIndex(bson.D{{Key: "id", Value: 1}}),
		{Keys: bson.D{{Key: "submission_id", Value: 1}}},
		{Keys: bson.D{{Key: "webhook_id", Value: 1}, {Key: "delivered_at", Value: -1}}},
	})
	return err
}

// FindEnabled returns the org's enabled webhooks subscribed to event.
func (r *WebhookRepo) FindEnabled(ctx context.Context, orgID, event string) ([]models.Webhook, error) {
	filter := bson.M{"org_id": orgID, "event": event, "enabled": true}
	return findAll[models.Webhook](ctx, r.hooks, filter)
}

func (r *WebhookRepo) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	_, err := r.deliveries.InsertOne(ctx, d)
	return err
}

func (r *WebhookRepo) DeliveriesFor(ctx context.Context, submissionID string) ([]models.WebhookDelivery, error) {
	opts := options.Find().SetSort(bson.D{{Key: "delivered_at", Value: 1}})
	return findAll[models.WebhookDelivery](ctx, r.deliveries, bson.M{"submission_id": submissionID}, opts)
}
