// Package pipeline holds the background jobs that complete a submission
// after ingest: scoring, geofence checks, media validation and webhooks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/macleangm-debug/FieldForce/internal/events"
	"github.com/macleangm-debug/FieldForce/internal/geo"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"github.com/macleangm-debug/FieldForce/internal/quality"
	"github.com/macleangm-debug/FieldForce/internal/queue"
	"github.com/macleangm-debug/FieldForce/internal/repository"
	"golang.org/x/sync/errgroup"
)

type SubmissionStore interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Submission, error)
	CompleteProcessing(ctx context.Context, id string, u repository.ProcessingUpdate) error
	BulkSetQuality(ctx context.Context, updates []repository.QualityUpdate, at time.Time) (int64, error)
	SetMediaResults(ctx context.Context, id string, validated bool, results []models.MediaResult) error
}

type FormStore interface {
	FindByID(ctx context.Context, id string) (*models.Form, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Form, error)
}

type ProjectStore interface {
	FindByID(ctx context.Context, id string) (*models.Project, error)
}

type WebhookStore interface {
	FindEnabled(ctx context.Context, orgID, event string) ([]models.Webhook, error)
	RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

type MediaValidator interface {
	Validate(ctx context.Context, submissionID string, f models.MediaField) models.MediaResult
}

type WebhookDeliverer interface {
	DeliverAll(ctx context.Context, hooks []models.Webhook, orgID string, evt models.WebhookEvent) []models.WebhookDelivery
}

type Deps struct {
	Submissions SubmissionStore
	Forms       FormStore
	Projects    ProjectStore
	Webhooks    WebhookStore
	Media       MediaValidator
	Deliverer   WebhookDeliverer
	Events      events.Publisher
}

type Processor struct {
	Deps
	mediaConcurrency int
	log              *slog.Logger
	now              func() time.Time
}

func NewProcessor(deps Deps, log *slog.Logger) *Processor {
	if deps.Events == nil {
		deps.Events = events.NoopPublisher{}
	}
	return &Processor{
		Deps:             deps,
		mediaConcurrency: 4,
		log:              log,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Handlers maps every job kind to its processor method.
func (p *Processor) Handlers() queue.Registry {
	single := func(fn func(context.Context, string) error) queue.Handler {
		return func(ctx context.Context, payload models.JobPayload) error {
			if payload.SubmissionID == "" {
				return backoff.Permanent(errors.New("payload missing submission_id"))
			}
			return fn(ctx, payload.SubmissionID)
		}
	}
	return queue.Registry{
		models.JobProcessSubmission: single(p.ProcessSubmission),
		models.JobValidateMedia:     single(p.ValidateMedia),
		models.JobTriggerWebhooks:   single(p.TriggerWebhooks),
		models.JobProcessBulk: func(ctx context.Context, payload models.JobPayload) error {
			if len(payload.SubmissionIDs) == 0 {
				return backoff.Permanent(errors.New("payload missing submission_ids"))
			}
			_, err := p.ProcessBulk(ctx, payload.SubmissionIDs)
			return err
		},
	}
}

// ProcessSubmission scores the submission if it has no score yet, checks
// its location against the project geofence and marks it completed. A
// missing submission or form is logged and not retried.
func (p *Processor) ProcessSubmission(ctx context.Context, id string) error {
	log := p.log.With("job", models.JobProcessSubmission, "submission_id", id)
	sub, err := p.Submissions.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub == nil {
		log.Info("pipeline: submission not found")
		return nil
	}

	upd := repository.ProcessingUpdate{ProcessedAt: p.now()}
	if sub.QualityScore == nil {
		form, err := p.Forms.FindByID(ctx, sub.FormID)
		if err != nil {
			return fmt.Errorf("load form: %w", err)
		}
		if form == nil {
			log.Warn("pipeline: form not found", "form_id", sub.FormID)
			return nil
		}
		res := quality.Score(sub.Data, form.Fields)
		upd.Score = &res.Score
		upd.Flags = res.Flags
	}

	inside, err := p.checkGeofence(ctx, sub)
	if err != nil {
		return err
	}
	upd.GPSValidated = inside

	if err := p.Submissions.CompleteProcessing(ctx, id, upd); err != nil {
		return fmt.Errorf("save processing: %w", err)
	}
	return nil
}

// checkGeofence returns nil when there is nothing to check.
func (p *Processor) checkGeofence(ctx context.Context, sub *models.Submission) (*bool, error) {
	if sub.GPSLocation == nil || sub.ProjectID == "" || p.Projects == nil {
		return nil, nil
	}
	project, err := p.Projects.FindByID(ctx, sub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if project == nil || len(project.Geofence) == 0 {
		return nil, nil
	}
	fence, err := geo.FromBSON(project.Geofence)
	if err != nil {
		p.log.Warn("pipeline: bad project geofence", "project_id", project.ID, "err", err)
		return nil, nil
	}
	inside := fence.Contains(sub.GPSLocation.Lat, sub.GPSLocation.Lng)
	return &inside, nil
}

type BulkResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProcessBulk scores a batch with one submissions query, one forms query and
// one unordered write. Submissions that already have a score are skipped.
func (p *Processor) ProcessBulk(ctx context.Context, ids []string) (BulkResult, error) {
	var res BulkResult
	subs, err := p.Submissions.FindByIDs(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("load submissions: %w", err)
	}
	res.Failed = len(ids) - len(subs)

	var todo []models.Submission
	formIDs := make([]string, 0, len(subs))
	for _, s := range subs {
		if s.QualityScore != nil {
			res.Skipped++
			continue
		}
		todo = append(todo, s)
		formIDs = append(formIDs, s.FormID)
	}
	if len(todo) == 0 {
		return res, nil
	}

	forms, err := p.Forms.FindByIDs(ctx, formIDs)
	if err != nil {
		return res, fmt.Errorf("load forms: %w", err)
	}
	byID := make(map[string]*models.Form, len(forms))
	for i := range forms {
		byID[forms[i].ID] = &forms[i]
	}

	updates := make([]repository.QualityUpdate, 0, len(todo))
	for _, s := range todo {
		form, ok := byID[s.FormID]
		if !ok {
			res.Failed++
			continue
		}
		q := quality.Score(s.Data, form.Fields)
		updates = append(updates, repository.QualityUpdate{ID: s.ID, Score: q.Score, Flags: q.Flags})
	}
	if _, err := p.Submissions.BulkSetQuality(ctx, updates, p.now()); err != nil {
		return res, fmt.Errorf("bulk update: %w", err)
	}
	res.Processed = len(updates)
	p.log.Info("pipeline: bulk processed", "processed", res.Processed, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

var errMediaUnreachable = errors.New("media unreachable")

// ValidateMedia checks every media field and records the results. Sources
// that could not be reached fail the job after recording so it is retried.
// Fields already validated by an earlier run keep their result and thumbnail.
func (p *Processor) ValidateMedia(ctx context.Context, id string) error {
	sub, err := p.Submissions.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub == nil {
		p.log.Info("pipeline: submission not found", "job", models.JobValidateMedia, "submission_id", id)
		return nil
	}
	fields := sub.Data.MediaFields()
	if len(fields) == 0 {
		return nil
	}

	done := make(map[string]models.MediaResult, len(sub.MediaResults))
	for _, r := range sub.MediaResults {
		if r.Status == models.MediaValidated {
			done[r.Field] = r
		}
	}

	results := make([]models.MediaResult, len(fields))
	var g errgroup.Group
	g.SetLimit(p.mediaConcurrency)
	for i, f := range fields {
		if r, ok := done[f.Field]; ok {
			results[i] = r
			continue
		}
		g.Go(func() error {
			results[i] = p.Media.Validate(ctx, id, f)
			return nil
		})
	}
	g.Wait()

	allValid := true
	var unreachable []string
	for _, r := range results {
		if r.Status != models.MediaValidated {
			allValid = false
		}
		if r.Status == models.MediaUnreachable {
			unreachable = append(unreachable, r.Field)
		}
	}
	if err := p.Submissions.SetMediaResults(ctx, id, allValid, results); err != nil {
		return fmt.Errorf("save media results: %w", err)
	}
	if len(unreachable) > 0 {
		return fmt.Errorf("%w: %s", errMediaUnreachable, strings.Join(unreachable, ", "))
	}
	return nil
}

// TriggerWebhooks notifies the org's subscribed webhooks. Delivery outcomes
// are recorded, never retried; only a failed webhook lookup fails the job.
func (p *Processor) TriggerWebhooks(ctx context.Context, id string) error {
	log := p.log.With("job", models.JobTriggerWebhooks, "submission_id", id)
	sub, err := p.Submissions.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub == nil {
		log.Info("pipeline: submission not found")
		return nil
	}

	evt := models.WebhookEvent{
		Event:        models.EventSubmissionCreated,
		SubmissionID: sub.ID,
		FormID:       sub.FormID,
		Timestamp:    p.now(),
	}
	hooks, err := p.Webhooks.FindEnabled(ctx, sub.OrgID, models.EventSubmissionCreated)
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}
	// Published only once the job can no longer be retried.
	if err := p.Events.Publish(ctx, sub.OrgID, events.SubmissionCreated, evt); err != nil {
		log.Warn("pipeline: publish event failed", "err", err)
	}
	if len(hooks) == 0 {
		return nil
	}

	for _, d := range p.Deliverer.DeliverAll(ctx, hooks, sub.OrgID, evt) {
		if !d.OK() {
			log.Info("pipeline: webhook delivery failed", "webhook_id", d.WebhookID, "status", d.StatusCode, "err", d.Error)
		}
		if err := p.Webhooks.RecordDelivery(ctx, &d); err != nil {
			log.Error("pipeline: record delivery failed", "webhook_id", d.WebhookID, "err", err)
		}
	}
	return nil
}
