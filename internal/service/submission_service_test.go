package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/access"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"github.com/macleangm-debug/FieldForce/internal/repository"
)

type memSubs struct {
	docs      map[string]*models.Submission
	calls     int
	bulkErr   error
	failIndex map[int]string
}

func newMemSubs() *memSubs {
	return &memSubs{docs: map[string]*models.Submission{}}
}

func (m *memSubs) Insert(_ context.Context, sub *models.Submission) error {
	m.calls++
	cp := *sub
	m.docs[sub.ID] = &cp
	return nil
}

func (m *memSubs) BulkInsert(_ context.Context, subs []*models.Submission) (repository.BulkInsertResult, error) {
	m.calls++
	if m.bulkErr != nil {
		return repository.BulkInsertResult{}, m.bulkErr
	}
	res := repository.BulkInsertResult{Failed: map[int]string{}}
	for i, s := range subs {
		if msg, ok := m.failIndex[i]; ok {
			res.Failed[i] = msg
			continue
		}
		cp := *s
		m.docs[s.ID] = &cp
		res.Inserted++
	}
	return res, nil
}

func (m *memSubs) FindByID(_ context.Context, id string) (*models.Submission, error) {
	m.calls++
	s, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSubs) List(_ context.Context, f repository.SubmissionFilter, skip, limit int) ([]models.Submission, int64, error) {
	m.calls++
	var all []models.Submission
	for _, s := range m.docs {
		if s.FormID == f.FormID {
			all = append(all, *s)
		}
	}
	total := int64(len(all))
	if skip > len(all) {
		skip = len(all)
	}
	all = all[skip:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memSubs) UpdateReview(_ context.Context, id string, status models.Status, reviewerID, notes string, at time.Time) (bool, error) {
	m.calls++
	s, ok := m.docs[id]
	if !ok {
		return false, nil
	}
	s.Status = status
	s.ReviewerID = reviewerID
	s.ReviewNotes = notes
	s.ReviewedAt = &at
	return true, nil
}

func (m *memSubs) Delete(_ context.Context, id string) (bool, error) {
	m.calls++
	_, ok := m.docs[id]
	delete(m.docs, id)
	return ok, nil
}

type memForms struct {
	forms map[string]models.Form
	calls int
}

func (m *memForms) FindByID(_ context.Context, id string) (*models.Form, error) {
	m.calls++
	f, ok := m.forms[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *memForms) FindByIDs(_ context.Context, ids []string) ([]models.Form, error) {
	m.calls++
	var out []models.Form
	seen := map[string]bool{}
	for _, id := range ids {
		if f, ok := m.forms[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, f)
		}
	}
	return out, nil
}

type memMembers struct {
	members []models.Membership
	calls   int
}

func (m *memMembers) FindActive(_ context.Context, orgID, userID string) (*models.Membership, error) {
	m.calls++
	for i := range m.members {
		if m.members[i].OrgID == orgID && m.members[i].UserID == userID {
			mem := m.members[i]
			return &mem, nil
		}
	}
	return nil, nil
}

func (m *memMembers) ActiveOrgIDs(_ context.Context, userID string, orgIDs []string) ([]string, error) {
	m.calls++
	var out []string
	for _, org := range orgIDs {
		for _, mem := range m.members {
			if mem.OrgID == org && mem.UserID == userID {
				out = append(out, org)
			}
		}
	}
	return out, nil
}

type enqueued struct {
	kind    models.JobKind
	payload models.JobPayload
}

type fakeDispatcher struct {
	async bool
	jobs  []enqueued
	err   error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, kind models.JobKind, payload models.JobPayload) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.jobs = append(d.jobs, enqueued{kind, payload})
	return "job-" + string(kind), nil
}

func (d *fakeDispatcher) Async() bool { return d.async }

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, orgID, event string, _ any) error {
	p.events = append(p.events, orgID+"/"+event)
	return nil
}

func (p *recordingPublisher) Close() {}

func ptr(f float64) *float64 { return &f }

type fixture struct {
	svc     *SubmissionService
	subs    *memSubs
	forms   *memForms
	members *memMembers
	queue   *fakeDispatcher
	events  *recordingPublisher
}

func newFixture() *fixture {
	f := &fixture{
		subs: newMemSubs(),
		forms: &memForms{forms: map[string]models.Form{
			"f1": {
				ID: "f1", OrgID: "org1", ProjectID: "p1", Version: 3, Status: models.FormPublished,
				Fields: []models.FieldSpec{
					{Name: "name", Validation: models.Validation{Required: true}},
					{Name: "age", Validation: models.Validation{MinValue: ptr(0), MaxValue: ptr(120)}},
				},
			},
			"f2":     {ID: "f2", OrgID: "org2", Version: 1, Status: models.FormPublished},
			"draft":  {ID: "draft", OrgID: "org1", Version: 1, Status: models.FormDraft},
			"closed": {ID: "closed", OrgID: "org1", Version: 1, Status: models.FormArchived},
		}},
		members: &memMembers{members: []models.Membership{
			{OrgID: "org1", UserID: "collector", Role: models.RoleMember},
			{OrgID: "org1", UserID: "analyst", Role: models.RoleAnalyst},
			{OrgID: "org1", UserID: "admin", Role: models.RoleAdmin},
		}},
		queue:  &fakeDispatcher{async: true},
		events: &recordingPublisher{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewSubmissionService(f.subs, f.forms, access.NewGuard(f.members), f.queue, f.events, log)
	f.svc.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }
	return f
}

var collector = models.Caller{UserID: "collector"}

func TestCreateScoresAndEnqueues(t *testing.T) {
	f := newFixture()
	sub, err := f.svc.Create(context.Background(), collector, SubmissionInput{
		FormID: "f1",
		Data:   models.Data{"name": models.StringValue("Asha"), "age": models.NumberValue(34)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.QualityScore == nil || *sub.QualityScore != 100 || len(sub.QualityFlags) != 0 {
		t.Fatalf("expected clean 100 score, got %v %v", sub.QualityScore, sub.QualityFlags)
	}
	if sub.Status != models.StatusSubmitted || sub.ProcessingStatus != models.ProcessingCompleted {
		t.Fatalf("unexpected status %s/%s", sub.Status, sub.ProcessingStatus)
	}
	if sub.FormVersion != 3 || sub.OrgID != "org1" || sub.ProjectID != "p1" || sub.SubmittedBy != "collector" {
		t.Fatalf("unexpected record %+v", sub)
	}
	if _, ok := f.subs.docs[sub.ID]; !ok {
		t.Fatal("submission not persisted")
	}
	want := []models.JobKind{models.JobProcessSubmission, models.JobValidateMedia, models.JobTriggerWebhooks}
	if len(f.queue.jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %+v", len(want), f.queue.jobs)
	}
	for i, k := range want {
		if f.queue.jobs[i].kind != k || f.queue.jobs[i].payload.SubmissionID != sub.ID {
			t.Fatalf("job %d = %+v", i, f.queue.jobs[i])
		}
	}
}

func TestCreateExtractsGPS(t *testing.T) {
	f := newFixture()
	acc := 5.0
	sub, err := f.svc.Create(context.Background(), collector, SubmissionInput{
		FormID: "f1",
		Data: models.Data{
			"name": models.StringValue("Asha"),
			"_gps": models.GPSValue(models.GPSPoint{Latitude: 1.0, Longitude: 2.0, Accuracy: &acc}),
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored := f.subs.docs[sub.ID]
	if stored.GPSLocation == nil || stored.GPSLocation.Lat != 1.0 || stored.GPSLocation.Lng != 2.0 {
		t.Fatalf("gps_location = %+v", stored.GPSLocation)
	}
	if stored.GPSAccuracy == nil || *stored.GPSAccuracy != 5 {
		t.Fatalf("gps_accuracy = %v", stored.GPSAccuracy)
	}
}

func TestCreateMalformedGPSIgnored(t *testing.T) {
	f := newFixture()
	sub, err := f.svc.Create(context.Background(), collector, SubmissionInput{
		FormID: "f1",
		Data:   models.Data{"name": models.StringValue("Asha"), "_gps": models.StringValue("nowhere")},
	})
	if err != nil {
		t.Fatalf("malformed gps must not fail ingest: %v", err)
	}
	if sub.GPSLocation != nil || sub.GPSAccuracy != nil {
		t.Fatalf("expected no location, got %+v", sub.GPSLocation)
	}
}

func TestCreateRejections(t *testing.T) {
	tests := []struct {
		name   string
		caller models.Caller
		formID string
		want   error
	}{
		{"missing form", collector, "nope", ErrNotFound},
		{"draft form", collector, "draft", ErrInvalidState},
		{"archived form", collector, "closed", ErrInvalidState},
		{"not a member", models.Caller{UserID: "stranger"}, "f1", ErrForbidden},
		{"member of other org", collector, "f2", ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Create(context.Background(), tt.caller, SubmissionInput{FormID: tt.formID, Data: models.Data{}})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(f.subs.docs) != 0 {
				t.Fatal("nothing may be persisted on rejection")
			}
			if len(f.queue.jobs) != 0 {
				t.Fatal("nothing may be enqueued on rejection")
			}
		})
	}
}

func TestCreateSuperadminBypassesMembership(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), models.Caller{UserID: "root", Superadmin: true}, SubmissionInput{FormID: "f2"}); err != nil {
		t.Fatalf("superadmin create: %v", err)
	}
	if f.members.calls != 0 {
		t.Fatalf("superadmin must not hit memberships, got %d calls", f.members.calls)
	}
}

func TestCreateSurvivesQueueOutage(t *testing.T) {
	f := newFixture()
	f.queue.err = errors.New("broker down")
	sub, err := f.svc.Create(context.Background(), collector, SubmissionInput{FormID: "f1", Data: models.Data{"name": models.StringValue("x")}})
	if err != nil {
		t.Fatalf("enqueue errors must be swallowed: %v", err)
	}
	if _, ok := f.subs.docs[sub.ID]; !ok {
		t.Fatal("submission must be persisted despite queue outage")
	}
}

func bulkOf(formIDs ...string) BulkRequest {
	req := BulkRequest{}
	for _, id := range formIDs {
		req.Submissions = append(req.Submissions, SubmissionInput{FormID: id, Data: models.Data{"name": models.StringValue("x")}})
	}
	return req
}

func TestBulkSecondFormMissing(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Bulk(context.Background(), collector, bulkOf("f1", "ghost", "f1"))
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.SuccessCount != 2 || res.ErrorCount != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0] != (BulkItemError{Index: 1, Error: "Form not found", FormID: "ghost"}) {
		t.Fatalf("unexpected errors %+v", res.Errors)
	}
	if len(f.subs.docs) != 2 {
		t.Fatalf("expected 2 stored documents, got %d", len(f.subs.docs))
	}
	if res.ProcessingMode != ModeAsync {
		t.Fatalf("mode = %s", res.ProcessingMode)
	}
	for _, id := range res.SubmissionIDs {
		s := f.subs.docs[id]
		if s.QualityScore != nil || s.ProcessingStatus != models.ProcessingPending || s.SyncedAt == nil {
			t.Fatalf("async item must be pending and unscored: %+v", s)
		}
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].kind != models.JobProcessBulk {
		t.Fatalf("expected one bulk job, got %+v", f.queue.jobs)
	}
	if got := f.queue.jobs[0].payload.SubmissionIDs; len(got) != 2 {
		t.Fatalf("bulk job ids %v", got)
	}
	if res.TaskID != "job-"+string(models.JobProcessBulk) {
		t.Fatalf("task id %q", res.TaskID)
	}
}

func TestBulkUsesThreeRoundTrips(t *testing.T) {
	f := newFixture()
	ids := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		if i%2 == 0 {
			ids = append(ids, "f1")
		} else {
			ids = append(ids, "f2")
		}
	}
	res, err := f.svc.Bulk(context.Background(), collector, bulkOf(ids...))
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.SuccessCount+res.ErrorCount != 500 || res.SuccessCount != 250 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if f.forms.calls != 1 || f.members.calls != 1 || f.subs.calls != 1 {
		t.Fatalf("round-trips forms=%d members=%d subs=%d", f.forms.calls, f.members.calls, f.subs.calls)
	}
	for _, e := range res.Errors {
		if e.Error != "Not authorized" || e.FormID != "f2" {
			t.Fatalf("unexpected error %+v", e)
		}
	}
}

func TestBulkCountsAddUp(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Bulk(context.Background(), collector, bulkOf("f1", "x", "f1", "y", "", "f1"))
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.SuccessCount != 3 || res.ErrorCount != 3 || res.SuccessCount+res.ErrorCount != 6 {
		t.Fatalf("unexpected counts %+v", res)
	}
}

func TestBulkSyncScoresInline(t *testing.T) {
	f := newFixture()
	off := false
	req := bulkOf("f1")
	req.AsyncProcessing = &off
	req.Submissions[0].Data = models.Data{"age": models.NumberValue(200)}

	res, err := f.svc.Bulk(context.Background(), collector, req)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.ProcessingMode != ModeSync || res.TaskID != "" || len(f.queue.jobs) != 0 {
		t.Fatalf("sync mode must not enqueue: %+v", res)
	}
	s := f.subs.docs[res.SubmissionIDs[0]]
	if s.QualityScore == nil || *s.QualityScore != 85 || s.ProcessingStatus != models.ProcessingCompleted {
		t.Fatalf("expected inline score 85, got %+v", s)
	}
}

func TestBulkWithoutAsyncDispatcherRunsSync(t *testing.T) {
	f := newFixture()
	f.queue.async = false
	res, err := f.svc.Bulk(context.Background(), collector, bulkOf("f1"))
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.ProcessingMode != ModeSync {
		t.Fatalf("mode = %s", res.ProcessingMode)
	}
	if s := f.subs.docs[res.SubmissionIDs[0]]; s.QualityScore == nil {
		t.Fatal("expected inline score")
	}
}

func TestBulkWholesaleWriteFailure(t *testing.T) {
	f := newFixture()
	f.subs.bulkErr = errors.New("no reachable servers")
	res, err := f.svc.Bulk(context.Background(), collector, bulkOf("f1", "f1", "ghost"))
	if err != nil {
		t.Fatalf("bulk must report write failure in the body: %v", err)
	}
	if res.SuccessCount != 0 || len(res.SubmissionIDs) != 0 {
		t.Fatalf("expected zero successes, got %+v", res)
	}
	last := res.Errors[len(res.Errors)-1]
	if last.Index != -1 {
		t.Fatalf("expected index -1 entry, got %+v", res.Errors)
	}
	if len(f.queue.jobs) != 0 {
		t.Fatal("no job for an empty batch")
	}
}

func TestBulkPerRecordWriteFailureMapsToInputIndex(t *testing.T) {
	f := newFixture()
	// staged position 1 is input index 2 because input 1 fails the form lookup
	f.subs.failIndex = map[int]string{1: "E11000 duplicate key"}
	res, err := f.svc.Bulk(context.Background(), collector, bulkOf("f1", "ghost", "f1"))
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.SuccessCount != 1 || res.ErrorCount != 2 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Errors[1].Index != 2 || res.Errors[1].Error != "E11000 duplicate key" {
		t.Fatalf("unexpected errors %+v", res.Errors)
	}
}

func TestListPaginationBounds(t *testing.T) {
	f := newFixture()
	for _, q := range []ListQuery{
		{FormID: "f1", Page: -1},
		{FormID: "f1", PageSize: 501},
		{FormID: "f1", PageSize: -3},
		{},
		{FormID: "f1", Status: "archived"},
	} {
		if _, err := f.svc.List(context.Background(), collector, q); !errors.Is(err, ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", q, err)
		}
	}

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Create(context.Background(), collector, SubmissionInput{FormID: "f1"}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := f.svc.List(context.Background(), collector, ListQuery{FormID: "f1", PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Submissions) != 2 || page.Page != 1 || page.PageSize != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Submissions[0].QualityFlags == nil {
		t.Fatal("flags must serialize as a list")
	}

	if _, err := f.svc.List(context.Background(), models.Caller{UserID: "stranger"}, ListQuery{FormID: "f1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestReview(t *testing.T) {
	f := newFixture()
	sub, err := f.svc.Create(context.Background(), collector, SubmissionInput{FormID: "f1"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := f.svc.Review(ctx, collector, sub.ID, ReviewInput{Status: models.StatusApproved}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member must not review, got %v", err)
	}
	if _, err := f.svc.Review(ctx, models.Caller{UserID: "analyst"}, sub.ID, ReviewInput{Status: models.StatusSubmitted}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := f.svc.Review(ctx, models.Caller{UserID: "analyst"}, "missing", ReviewInput{Status: models.StatusApproved}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := f.svc.Review(ctx, models.Caller{UserID: "analyst"}, sub.ID, ReviewInput{Status: models.StatusRejected, Notes: "blurry"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if got.Status != models.StatusRejected || got.ReviewerID != "analyst" || got.ReviewedAt == nil {
		t.Fatalf("unexpected review %+v", got)
	}
	// a rejected submission may be approved later
	if _, err := f.svc.Review(ctx, models.Caller{UserID: "admin"}, sub.ID, ReviewInput{Status: models.StatusApproved}); err != nil {
		t.Fatalf("re-review: %v", err)
	}
	if f.subs.docs[sub.ID].Status != models.StatusApproved {
		t.Fatal("status not stored")
	}
	if len(f.events.events) != 2 || f.events.events[0] != "org1/submission.reviewed" {
		t.Fatalf("unexpected events %v", f.events.events)
	}
}

func TestDeleteRequiresAdmin(t *testing.T) {
	f := newFixture()
	sub, err := f.svc.Create(context.Background(), collector, SubmissionInput{FormID: "f1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(context.Background(), models.Caller{UserID: "analyst"}, sub.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("analyst delete: %v", err)
	}
	if err := f.svc.Delete(context.Background(), models.Caller{UserID: "admin"}, sub.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if err := f.svc.Delete(context.Background(), models.Caller{UserID: "admin"}, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestGetChecksMembership(t *testing.T) {
	f := newFixture()
	sub, err := f.svc.Create(context.Background(), collector, SubmissionInput{FormID: "f1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Get(context.Background(), collector, sub.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), models.Caller{UserID: "stranger"}, sub.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
