package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/access"
	"github.com/macleangm-debug/FieldForce/internal/analytics"
	"github.com/macleangm-debug/FieldForce/internal/config"
	"github.com/macleangm-debug/FieldForce/internal/db"
	"github.com/macleangm-debug/FieldForce/internal/events"
	"github.com/macleangm-debug/FieldForce/internal/media"
	"github.com/macleangm-debug/FieldForce/internal/pipeline"
	"github.com/macleangm-debug/FieldForce/internal/queue"
	"github.com/macleangm-debug/FieldForce/internal/repository"
	"github.com/macleangm-debug/FieldForce/internal/webhook"
)

// inlineBuffer bounds jobs waiting for an in-process worker.
const inlineBuffer = 4096

// app holds everything the subcommands share: one store connection, the
// repositories over it and the pipeline processor.
type app struct {
	cfg *config.Config
	log *slog.Logger

	store       *db.Store
	submissions *repository.SubmissionRepo
	forms       *repository.FormRepo
	projects    *repository.ProjectRepo
	members     *repository.MembershipRepo
	webhooks    *repository.WebhookRepo
	jobs        *repository.JobRepo
	analytics   *repository.AnalyticsRepo
	thumbs      *repository.ThumbnailRepo

	events    events.Publisher
	processor *pipeline.Processor
}

func bootstrap(ctx context.Context, c *config.Config, log *slog.Logger) (*app, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	store, err := db.Connect(connectCtx, c.MongoURI, c.MongoDB, c.MongoPoolSize, log)
	if err != nil {
		return nil, err
	}
	log.Info("connected to mongo", "db", c.MongoDB, "pool_size", c.MongoPoolSize)

	thumbs, err := repository.NewThumbnailRepo(store)
	if err != nil {
		store.Close(context.Background())
		return nil, err
	}

	a := &app{
		cfg:         c,
		log:         log,
		store:       store,
		submissions: repository.NewSubmissionRepo(store),
		forms:       repository.NewFormRepo(store),
		projects:    repository.NewProjectRepo(store),
		members:     repository.NewMembershipRepo(store),
		webhooks:    repository.NewWebhookRepo(store),
		jobs:        repository.NewJobRepo(store),
		analytics:   repository.NewAnalyticsRepo(store),
		thumbs:      thumbs,
		events:      events.NoopPublisher{},
	}

	if c.MQTTBroker != "" {
		pub, err := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:      c.MQTTBroker,
			ClientID:    c.MQTTClientID,
			TopicPrefix: c.MQTTTopicPrefix,
		}, log)
		if err != nil {
			// The event feed is best effort; ingest keeps working without it.
			log.Warn("mqtt unavailable, events disabled", "broker", c.MQTTBroker, "err", err)
		} else {
			a.events = pub
		}
	}

	a.processor = pipeline.NewProcessor(pipeline.Deps{
		Submissions: a.submissions,
		Forms:       a.forms,
		Projects:    a.projects,
		Webhooks:    a.webhooks,
		Media: media.NewHTTPValidator(media.Config{
			Timeout:      c.MediaFetchTimeout,
			MaxBytes:     c.MediaMaxBytes,
			AllowedHosts: c.MediaAllowedHosts,
			AllowPrivate: c.MediaAllowPrivate,
		}, thumbs, log),
		Deliverer: webhook.NewDeliverer(c.WebhookTimeout, c.WebhookConcurrency),
		Events:    a.events,
	}, log)
	return a, nil
}

func (a *app) close() {
	a.events.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		a.log.Warn("mongo disconnect failed", "err", err)
	}
}

// ensureIndexes builds indexes without holding up startup; large collections
// can take minutes.
func (a *app) ensureIndexes(ctx context.Context) {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"jobs", a.jobs.EnsureIndexes},
		{"webhooks", a.webhooks.EnsureIndexes},
		{"analytics", a.analytics.EnsureIndexes},
		{"submissions", a.submissions.EnsureIndexes},
	}
	for _, s := range steps {
		start := time.Now()
		if err := s.run(ctx); err != nil {
			a.log.Warn("background init: index creation failed", "collection", s.name, "err", err)
			continue
		}
		a.log.Info("background init: indexes ready", "collection", s.name, "took", time.Since(start).Round(time.Millisecond))
	}
}

func (a *app) guard() *access.Guard {
	return access.NewGuard(a.members)
}

func (a *app) aggregator() *analytics.Aggregator {
	return analytics.NewAggregator(a.analytics, a.submissions, a.log)
}

func (a *app) schedules() analytics.Schedules {
	return analytics.Schedules{
		Hourly:    a.cfg.HourlySchedule,
		Daily:     a.cfg.DailySchedule,
		Retention: a.cfg.RetentionSchedule,
	}
}

func (a *app) mongoQueue() *queue.MongoQueue {
	return queue.NewMongoQueue(a.jobs, a.log)
}

func (a *app) worker(q *queue.MongoQueue) *queue.Worker {
	return queue.NewWorker(q, a.processor.Handlers(), queue.WorkerConfig{
		Concurrency:  a.cfg.WorkerConcurrency,
		PollInterval: a.cfg.WorkerPollInterval,
		Lease:        a.cfg.JobLease,
	}, a.log)
}

// dispatch is the job dispatcher chosen by QUEUE_MODE. inspector is nil
// unless jobs are durable.
type dispatch struct {
	dispatcher queue.Dispatcher
	inspector  *queue.MongoQueue
	inline     *queue.InlineDispatcher
}

func (a *app) dispatch() (dispatch, error) {
	switch a.cfg.QueueMode {
	case config.QueueMongo:
		q := a.mongoQueue()
		return dispatch{dispatcher: q, inspector: q}, nil
	case config.QueueInline:
		d := queue.NewInlineDispatcher(a.processor.Handlers(), a.cfg.WorkerConcurrency, inlineBuffer, a.log)
		return dispatch{dispatcher: d, inline: d}, nil
	case config.QueueNone:
		return dispatch{dispatcher: queue.NewNoopDispatcher(a.log)}, nil
	}
	return dispatch{}, fmt.Errorf("unknown queue mode %q", a.cfg.QueueMode)
}
