package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"github.com/macleangm-debug/FieldForce/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeSubs struct {
	mu      sync.Mutex
	subs    map[string]*models.Submission
	queries int
	writes  int
	media   map[string][]models.MediaResult
	fail    error
}

func newFakeSubs(subs ...*models.Submission) *fakeSubs {
	f := &fakeSubs{subs: map[string]*models.Submission{}, media: map[string][]models.MediaResult{}}
	for _, s := range subs {
		f.subs[s.ID] = s
	}
	return f
}

func (f *fakeSubs) FindByID(_ context.Context, id string) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.fail != nil {
		return nil, f.fail
	}
	s, ok := f.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubs) FindByIDs(_ context.Context, ids []string) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	var out []models.Submission
	for _, id := range ids {
		if s, ok := f.subs[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSubs) CompleteProcessing(_ context.Context, id string, u repository.ProcessingUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	s := f.subs[id]
	s.ProcessingStatus = models.ProcessingCompleted
	s.ProcessedAt = &u.ProcessedAt
	if u.Score != nil {
		s.QualityScore = u.Score
		s.QualityFlags = u.Flags
	}
	s.GPSValidated = u.GPSValidated
	return nil
}

func (f *fakeSubs) BulkSetQuality(_ context.Context, updates []repository.QualityUpdate, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	var n int64
	for _, u := range updates {
		s := f.subs[u.ID]
		if s.QualityScore != nil {
			continue
		}
		score := u.Score
		s.QualityScore = &score
		s.QualityFlags = u.Flags
		s.ProcessingStatus = models.ProcessingCompleted
		n++
	}
	return n, nil
}

func (f *fakeSubs) SetMediaResults(_ context.Context, id string, validated bool, results []models.MediaResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id].MediaValidated = &validated
	f.subs[id].MediaResults = results
	f.media[id] = results
	return nil
}

type fakeForms struct {
	forms   map[string]models.Form
	queries int
}

func (f *fakeForms) FindByID(_ context.Context, id string) (*models.Form, error) {
	f.queries++
	form, ok := f.forms[id]
	if !ok {
		return nil, nil
	}
	return &form, nil
}

func (f *fakeForms) FindByIDs(_ context.Context, ids []string) ([]models.Form, error) {
	f.queries++
	var out []models.Form
	seen := map[string]bool{}
	for _, id := range ids {
		if form, ok := f.forms[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, form)
		}
	}
	return out, nil
}

type fakeProjects map[string]*models.Project

func (f fakeProjects) FindByID(_ context.Context, id string) (*models.Project, error) {
	return f[id], nil
}

type fakeMedia struct {
	status map[string]models.MediaStatus
}

func (f fakeMedia) Validate(_ context.Context, _ string, mf models.MediaField) models.MediaResult {
	return models.MediaResult{Field: mf.Field, Type: mf.Media.Type, Status: f.status[mf.Field]}
}

// countingMedia hands out a fresh thumbnail id per validated photo so
// repeat validations are visible.
type countingMedia struct {
	mu     sync.Mutex
	status map[string]models.MediaStatus
	calls  map[string]int
}

func (c *countingMedia) Validate(_ context.Context, _ string, mf models.MediaField) models.MediaResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[mf.Field]++
	r := models.MediaResult{Field: mf.Field, Type: mf.Media.Type, Status: c.status[mf.Field]}
	if r.Status == models.MediaValidated && mf.Media.Type == models.MediaPhoto {
		r.ThumbnailID = fmt.Sprintf("thumb-%s-%d", mf.Field, c.calls[mf.Field])
	}
	return r
}

type fakeHooks struct {
	hooks    []models.Webhook
	recorded []models.WebhookDelivery
	lookup   error
}

func (f *fakeHooks) FindEnabled(_ context.Context, orgID, event string) ([]models.Webhook, error) {
	if f.lookup != nil {
		return nil, f.lookup
	}
	var out []models.Webhook
	for _, h := range f.hooks {
		if h.OrgID == orgID && h.Event == event && h.Enabled {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHooks) RecordDelivery(_ context.Context, d *models.WebhookDelivery) error {
	f.recorded = append(f.recorded, *d)
	return nil
}

type fakeDeliverer struct {
	status map[string]int
}

func (f fakeDeliverer) DeliverAll(_ context.Context, hooks []models.Webhook, orgID string, evt models.WebhookEvent) []models.WebhookDelivery {
	out := make([]models.WebhookDelivery, len(hooks))
	for i, h := range hooks {
		out[i] = models.WebhookDelivery{WebhookID: h.ID, OrgID: orgID, SubmissionID: evt.SubmissionID, StatusCode: f.status[h.ID]}
		if out[i].StatusCode == 0 {
			out[i].Error = "connection refused"
		}
	}
	return out
}

type recordingPublisher struct {
	topics []string
}

func (r *recordingPublisher) Publish(_ context.Context, orgID, event string, _ any) error {
	r.topics = append(r.topics, orgID+"/"+event)
	return nil
}

func (r *recordingPublisher) Close() {}

func ptr(f float64) *float64 { return &f }

var testForm = models.Form{
	ID:     "form1",
	OrgID:  "org1",
	Status: models.FormPublished,
	Fields: []models.FieldSpec{
		{Name: "name", Validation: models.Validation{Required: true}},
		{Name: "age", Validation: models.Validation{MinValue: ptr(0), MaxValue: ptr(120)}},
	},
}

func pendingSub(id string) *models.Submission {
	return &models.Submission{
		ID:               id,
		FormID:           "form1",
		OrgID:            "org1",
		ProjectID:        "p1",
		Data:             models.Data{"age": models.NumberValue(130)},
		ProcessingStatus: models.ProcessingPending,
	}
}

func newProcessor(subs *fakeSubs, forms *fakeForms, deps Deps) *Processor {
	deps.Submissions = subs
	deps.Forms = forms
	return NewProcessor(deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessSubmissionScoresAndChecksGeofence(t *testing.T) {
	sub := pendingSub("s1")
	sub.GPSLocation = &models.GPSLocation{Lat: -6.5, Lng: 39.5}
	subs := newFakeSubs(sub)
	forms := &fakeForms{forms: map[string]models.Form{"form1": testForm}}

	raw, err := bson.Marshal(bson.D{
		{Key: "type", Value: "Polygon"},
		{Key: "coordinates", Value: bson.A{bson.A{
			bson.A{39.0, -7.0}, bson.A{40.0, -7.0}, bson.A{40.0, -6.0}, bson.A{39.0, -6.0}, bson.A{39.0, -7.0},
		}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	projects := fakeProjects{"p1": {ID: "p1", OrgID: "org1", Geofence: raw}}

	p := newProcessor(subs, forms, Deps{Projects: projects})
	if err := p.ProcessSubmission(context.Background(), "s1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := subs.subs["s1"]
	if got.QualityScore == nil || *got.QualityScore != 85 {
		t.Fatalf("expected score 85, got %v", got.QualityScore)
	}
	if got.ProcessingStatus != models.ProcessingCompleted || got.ProcessedAt == nil {
		t.Fatalf("not completed: %+v", got)
	}
	if got.GPSValidated == nil || !*got.GPSValidated {
		t.Fatalf("expected gps inside fence, got %v", got.GPSValidated)
	}
}

func TestProcessSubmissionKeepsExistingScore(t *testing.T) {
	sub := pendingSub("s1")
	sub.QualityScore = ptr(42)
	subs := newFakeSubs(sub)
	forms := &fakeForms{forms: map[string]models.Form{"form1": testForm}}

	p := newProcessor(subs, forms, Deps{})
	if err := p.ProcessSubmission(context.Background(), "s1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if *subs.subs["s1"].QualityScore != 42 {
		t.Fatal("existing score must not be recomputed")
	}
	if forms.queries != 0 {
		t.Fatalf("form lookup not needed, got %d queries", forms.queries)
	}
}

func TestProcessSubmissionMissingIsNotRetried(t *testing.T) {
	subs := newFakeSubs(pendingSub("s1"))
	forms := &fakeForms{forms: map[string]models.Form{}}
	p := newProcessor(subs, forms, Deps{})

	if err := p.ProcessSubmission(context.Background(), "nope"); err != nil {
		t.Fatalf("missing submission should not error: %v", err)
	}
	if err := p.ProcessSubmission(context.Background(), "s1"); err != nil {
		t.Fatalf("missing form should not error: %v", err)
	}
	if subs.subs["s1"].ProcessingStatus != models.ProcessingPending {
		t.Fatal("submission without form must stay pending")
	}
}

func TestProcessSubmissionStoreErrorRetries(t *testing.T) {
	subs := newFakeSubs()
	subs.fail = errors.New("connection reset")
	p := newProcessor(subs, &fakeForms{}, Deps{})
	if err := p.ProcessSubmission(context.Background(), "s1"); err == nil {
		t.Fatal("expected error so the job retries")
	}
}

func TestProcessBulkBatchesQueries(t *testing.T) {
	scored := pendingSub("s3")
	scored.QualityScore = ptr(100)
	orphan := pendingSub("s4")
	orphan.FormID = "gone"
	subs := newFakeSubs(pendingSub("s1"), pendingSub("s2"), scored, orphan)
	forms := &fakeForms{forms: map[string]models.Form{"form1": testForm}}
	p := newProcessor(subs, forms, Deps{})

	res, err := p.ProcessBulk(context.Background(), []string{"s1", "s2", "s3", "s4", "s5"})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.Processed != 2 || res.Skipped != 1 || res.Failed != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if subs.queries != 1 || forms.queries != 1 || subs.writes != 1 {
		t.Fatalf("expected 1/1/1 round-trips, got subs=%d forms=%d writes=%d", subs.queries, forms.queries, subs.writes)
	}
	for _, id := range []string{"s1", "s2"} {
		s := subs.subs[id]
		if s.QualityScore == nil || *s.QualityScore != 85 || s.ProcessingStatus != models.ProcessingCompleted {
			t.Fatalf("%s not scored: %+v", id, s)
		}
	}
	if *subs.subs["s3"].QualityScore != 100 {
		t.Fatal("already scored submission was overwritten")
	}
	if subs.subs["s4"].ProcessingStatus != models.ProcessingPending {
		t.Fatal("orphan must remain pending")
	}
}

func TestScoreMatchesInlineAndDeferred(t *testing.T) {
	sub := pendingSub("s1")
	subs := newFakeSubs(sub)
	forms := &fakeForms{forms: map[string]models.Form{"form1": testForm}}
	p := newProcessor(subs, forms, Deps{})
	if _, err := p.ProcessBulk(context.Background(), []string{"s1"}); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	deferred := subs.subs["s1"]

	sub2 := pendingSub("s2")
	subs2 := newFakeSubs(sub2)
	p2 := newProcessor(subs2, forms, Deps{})
	if err := p2.ProcessSubmission(context.Background(), "s2"); err != nil {
		t.Fatalf("process: %v", err)
	}
	single := subs2.subs["s2"]

	if *deferred.QualityScore != *single.QualityScore || len(deferred.QualityFlags) != len(single.QualityFlags) {
		t.Fatalf("bulk and single paths disagree: %v/%v vs %v/%v",
			*deferred.QualityScore, deferred.QualityFlags, *single.QualityScore, single.QualityFlags)
	}
}

func mediaSub() *models.Submission {
	s := pendingSub("m1")
	s.Data = models.Data{
		"front": models.MediaValue(models.MediaDescriptor{Type: models.MediaPhoto, URL: "https://x/a.jpg"}),
		"voice": models.MediaValue(models.MediaDescriptor{Type: models.MediaAudio, URL: "https://x/b.m4a"}),
		"name":  models.StringValue("A"),
	}
	return s
}

func TestValidateMedia(t *testing.T) {
	subs := newFakeSubs(mediaSub())
	media := fakeMedia{status: map[string]models.MediaStatus{"front": models.MediaValidated, "voice": models.MediaValidated}}
	p := newProcessor(subs, &fakeForms{}, Deps{Media: media})

	if err := p.ValidateMedia(context.Background(), "m1"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v := subs.subs["m1"].MediaValidated; v == nil || !*v {
		t.Fatal("expected media_validated=true")
	}
	if len(subs.media["m1"]) != 2 || subs.media["m1"][0].Field != "front" {
		t.Fatalf("unexpected results %+v", subs.media["m1"])
	}
}

func TestValidateMediaUnreachableRetriesAfterRecording(t *testing.T) {
	subs := newFakeSubs(mediaSub())
	media := fakeMedia{status: map[string]models.MediaStatus{"front": models.MediaValidated, "voice": models.MediaUnreachable}}
	p := newProcessor(subs, &fakeForms{}, Deps{Media: media})

	err := p.ValidateMedia(context.Background(), "m1")
	if !errors.Is(err, errMediaUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if v := subs.subs["m1"].MediaValidated; v == nil || *v {
		t.Fatal("expected media_validated=false recorded")
	}
}

func TestValidateMediaRerunKeepsValidatedFields(t *testing.T) {
	subs := newFakeSubs(mediaSub())
	media := &countingMedia{
		status: map[string]models.MediaStatus{"front": models.MediaValidated, "voice": models.MediaUnreachable},
		calls:  map[string]int{},
	}
	p := newProcessor(subs, &fakeForms{}, Deps{Media: media})

	if err := p.ValidateMedia(context.Background(), "m1"); !errors.Is(err, errMediaUnreachable) {
		t.Fatalf("first run: expected unreachable, got %v", err)
	}
	media.status["voice"] = models.MediaValidated
	if err := p.ValidateMedia(context.Background(), "m1"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if media.calls["front"] != 1 {
		t.Fatalf("front validated %d times, want 1", media.calls["front"])
	}
	if media.calls["voice"] != 2 {
		t.Fatalf("voice validated %d times, want 2", media.calls["voice"])
	}
	res := subs.media["m1"]
	if len(res) != 2 || res[0].ThumbnailID != "thumb-front-1" || res[1].Status != models.MediaValidated {
		t.Fatalf("unexpected results %+v", res)
	}
	if v := subs.subs["m1"].MediaValidated; v == nil || !*v {
		t.Fatal("expected media_validated=true after second run")
	}
}

func TestValidateMediaNoMediaIsNoop(t *testing.T) {
	subs := newFakeSubs(pendingSub("s1"))
	p := newProcessor(subs, &fakeForms{}, Deps{Media: fakeMedia{}})
	if err := p.ValidateMedia(context.Background(), "s1"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if subs.subs["s1"].MediaValidated != nil {
		t.Fatal("no media must leave the submission untouched")
	}
}

func TestTriggerWebhooksRecordsEachOutcome(t *testing.T) {
	subs := newFakeSubs(pendingSub("s1"))
	hooks := &fakeHooks{hooks: []models.Webhook{
		{ID: "h1", OrgID: "org1", Event: models.EventSubmissionCreated, Enabled: true},
		{ID: "h2", OrgID: "org1", Event: models.EventSubmissionCreated, Enabled: true},
		{ID: "h3", OrgID: "org1", Event: models.EventSubmissionCreated, Enabled: false},
		{ID: "h4", OrgID: "org2", Event: models.EventSubmissionCreated, Enabled: true},
	}}
	pub := &recordingPublisher{}
	p := newProcessor(subs, &fakeForms{}, Deps{
		Webhooks:  hooks,
		Deliverer: fakeDeliverer{status: map[string]int{"h2": 200}},
		Events:    pub,
	})

	if err := p.TriggerWebhooks(context.Background(), "s1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(hooks.recorded) != 2 {
		t.Fatalf("expected 2 deliveries, got %+v", hooks.recorded)
	}
	if hooks.recorded[0].OK() || !hooks.recorded[1].OK() {
		t.Fatalf("unexpected outcomes %+v", hooks.recorded)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "org1/submission.created" {
		t.Fatalf("unexpected events %v", pub.topics)
	}
}

func TestTriggerWebhooksLookupFailureRetries(t *testing.T) {
	subs := newFakeSubs(pendingSub("s1"))
	hooks := &fakeHooks{lookup: errors.New("timeout")}
	pub := &recordingPublisher{}
	p := newProcessor(subs, &fakeForms{}, Deps{Webhooks: hooks, Deliverer: fakeDeliverer{}, Events: pub})
	for attempt := 0; attempt < 3; attempt++ {
		if err := p.TriggerWebhooks(context.Background(), "s1"); err == nil {
			t.Fatal("expected error")
		}
	}
	if len(pub.topics) != 0 {
		t.Fatalf("failed lookups must not publish, got %v", pub.topics)
	}

	hooks.lookup = nil
	if err := p.TriggerWebhooks(context.Background(), "s1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(pub.topics) != 1 {
		t.Fatalf("expected one event after the lookup succeeds, got %v", pub.topics)
	}
}

func TestHandlersRejectEmptyPayload(t *testing.T) {
	p := newProcessor(newFakeSubs(), &fakeForms{}, Deps{})
	h := p.Handlers()
	for _, kind := range []models.JobKind{models.JobProcessSubmission, models.JobProcessBulk, models.JobValidateMedia, models.JobTriggerWebhooks} {
		err := h[kind](context.Background(), models.JobPayload{})
		var perm *backoff.PermanentError
		if !errors.As(err, &perm) {
			t.Fatalf("%s: expected permanent error, got %v", kind, err)
		}
	}
}
