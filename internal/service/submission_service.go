package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/macleangm-debug/FieldForce/internal/access"
	"github.com/macleangm-debug/FieldForce/internal/events"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"github.com/macleangm-debug/FieldForce/internal/quality"
	"github.com/macleangm-debug/FieldForce/internal/queue"
	"github.com/macleangm-debug/FieldForce/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

type SubmissionStore interface {
	Insert(ctx context.Context, sub *models.Submission) error
	BulkInsert(ctx context.Context, subs []*models.Submission) (repository.BulkInsertResult, error)
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	List(ctx context.Context, f repository.SubmissionFilter, skip, limit int) ([]models.Submission, int64, error)
	UpdateReview(ctx context.Context, id string, status models.Status, reviewerID, notes string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type FormStore interface {
	FindByID(ctx context.Context, id string) (*models.Form, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Form, error)
}

// SubmissionInput is one submission as sent by a device.
type SubmissionInput struct {
	FormID      string      `json:"form_id" validate:"required"`
	FormVersion *int        `json:"form_version,omitempty"`
	Data        models.Data `json:"data"`
	DeviceID    string      `json:"device_id,omitempty"`
	DeviceInfo  models.Data `json:"device_info,omitempty"`
}

type SubmissionService struct {
	subs       SubmissionStore
	forms      FormStore
	guard      *access.Guard
	dispatcher queue.Dispatcher
	events     events.Publisher
	log        *slog.Logger
	now        func() time.Time
}

func NewSubmissionService(subs SubmissionStore, forms FormStore, guard *access.Guard, dispatcher queue.Dispatcher, pub events.Publisher, log *slog.Logger) *SubmissionService {
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &SubmissionService{
		subs:       subs,
		forms:      forms,
		guard:      guard,
		dispatcher: dispatcher,
		events:     pub,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// build stages a submission for form. Scoring is left to the caller.
func (s *SubmissionService) build(in SubmissionInput, form *models.Form, caller models.Caller, now time.Time) *models.Submission {
	data := in.Data
	if data == nil {
		data = models.Data{}
	}
	version := form.Version
	if in.FormVersion != nil {
		version = *in.FormVersion
	}
	sub := &models.Submission{
		ID:               uuid.NewString(),
		FormID:           form.ID,
		FormVersion:      version,
		Data:             data,
		DeviceID:         in.DeviceID,
		DeviceInfo:       in.DeviceInfo,
		OrgID:            form.OrgID,
		ProjectID:        form.ProjectID,
		SubmittedBy:      caller.UserID,
		SubmittedAt:      now,
		Status:           models.StatusSubmitted,
		QualityFlags:     []string{},
		ProcessingStatus: models.ProcessingPending,
		HasMedia:         data.HasMedia(),
	}
	if p, ok := data.GPS(); ok {
		sub.GPSLocation = &models.GPSLocation{Lat: p.Latitude, Lng: p.Longitude}
		sub.GPSAccuracy = p.Accuracy
	}
	if reserved := form.ReservedFields(); len(reserved) > 0 {
		s.log.Warn("submission: form declares reserved field names", "form_id", form.ID, "fields", reserved)
	}
	return sub
}

func applyScore(sub *models.Submission, form *models.Form, at time.Time) {
	res := quality.Score(sub.Data, form.Fields)
	sub.QualityScore = &res.Score
	sub.QualityFlags = res.Flags
	sub.ProcessingStatus = models.ProcessingCompleted
	sub.ProcessedAt = &at
}

// Create ingests one submission. Background jobs are enqueued best effort;
// a queue failure never fails the request.
func (s *SubmissionService) Create(ctx context.Context, caller models.Caller, in SubmissionInput) (*models.Submission, error) {
	form, err := s.forms.FindByID(ctx, in.FormID)
	if err != nil {
		return nil, fmt.Errorf("load form: %w", err)
	}
	if form == nil {
		return nil, fmt.Errorf("form %s: %w", in.FormID, ErrNotFound)
	}
	if !form.Published() {
		return nil, fmt.Errorf("form is not published: %w", ErrInvalidState)
	}
	ok, err := s.guard.Authorize(ctx, form, caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("not authorized to submit to this form: %w", ErrForbidden)
	}

	now := s.now()
	sub := s.build(in, form, caller, now)
	applyScore(sub, form, now)
	if err := s.subs.Insert(ctx, sub); err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	payload := models.JobPayload{SubmissionID: sub.ID}
	for _, kind := range []models.JobKind{models.JobProcessSubmission, models.JobValidateMedia, models.JobTriggerWebhooks} {
		if _, err := s.dispatcher.Enqueue(ctx, kind, payload); err != nil {
			s.log.Warn("submission: enqueue failed", "kind", kind, "submission_id", sub.ID, "err", err)
		}
	}
	return sub, nil
}

type BulkRequest struct {
	Submissions []SubmissionInput `json:"submissions" validate:"required,min=1,max=10000"`
	// Defaults to true when omitted.
	AsyncProcessing *bool `json:"async_processing,omitempty"`
}

type BulkItemError struct {
	Index  int    `json:"index"`
	Error  string `json:"error"`
	FormID string `json:"form_id,omitempty"`
}

type BulkResult struct {
	SuccessCount   int             `json:"success_count"`
	ErrorCount     int             `json:"error_count"`
	SubmissionIDs  []string        `json:"submission_ids"`
	Errors         []BulkItemError `json:"errors"`
	ProcessingMode string          `json:"processing_mode"`
	TaskID         string          `json:"task_id,omitempty"`
}

const (
	ModeAsync = "async"
	ModeSync  = "sync"
)

// Bulk ingests a batch from an offline device with one forms query, one
// memberships query and one unordered insert. Item failures are reported
// per index and never abort the batch.
func (s *SubmissionService) Bulk(ctx context.Context, caller models.Caller, req BulkRequest) (*BulkResult, error) {
	async := req.AsyncProcessing == nil || *req.AsyncProcessing
	if !s.dispatcher.Async() {
		async = false
	}
	res := &BulkResult{
		SubmissionIDs:  []string{},
		Errors:         []BulkItemError{},
		ProcessingMode: ModeSync,
	}
	if async {
		res.ProcessingMode = ModeAsync
	}

	formIDs := make([]string, 0, len(req.Submissions))
	for _, in := range req.Submissions {
		if in.FormID != "" {
			formIDs = append(formIDs, in.FormID)
		}
	}
	forms, err := s.forms.FindByIDs(ctx, formIDs)
	if err != nil {
		return nil, fmt.Errorf("load forms: %w", err)
	}
	byID := make(map[string]*models.Form, len(forms))
	orgIDs := make([]string, 0, len(forms))
	seenOrg := map[string]bool{}
	for i := range forms {
		f := &forms[i]
		byID[f.ID] = f
		if !seenOrg[f.OrgID] {
			seenOrg[f.OrgID] = true
			orgIDs = append(orgIDs, f.OrgID)
		}
	}
	allowed, err := s.guard.AllowedOrgs(ctx, caller, orgIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	staged := make([]*models.Submission, 0, len(req.Submissions))
	stagedIdx := make([]int, 0, len(req.Submissions))
	for i, in := range req.Submissions {
		form, ok := byID[in.FormID]
		if !ok {
			res.Errors = append(res.Errors, BulkItemError{Index: i, Error: "Form not found", FormID: in.FormID})
			continue
		}
		if !allowed.Allows(form.OrgID) {
			res.Errors = append(res.Errors, BulkItemError{Index: i, Error: "Not authorized", FormID: in.FormID})
			continue
		}
		sub := s.build(in, form, caller, now)
		synced := now
		sub.SyncedAt = &synced
		if !async {
			applyScore(sub, form, now)
		}
		staged = append(staged, sub)
		stagedIdx = append(stagedIdx, i)
	}

	if len(staged) > 0 {
		written, err := s.subs.BulkInsert(ctx, staged)
		if err != nil {
			s.log.Error("submission: bulk write failed", "items", len(staged), "err", err)
			res.Errors = append(res.Errors, BulkItemError{Index: -1, Error: "Bulk write error: " + err.Error()})
			staged = nil
		}
		for pos, sub := range staged {
			if msg, failed := written.Failed[pos]; failed {
				res.Errors = append(res.Errors, BulkItemError{Index: stagedIdx[pos], Error: msg, FormID: sub.FormID})
				continue
			}
			res.SubmissionIDs = append(res.SubmissionIDs, sub.ID)
		}
	}
	res.SuccessCount = len(res.SubmissionIDs)
	res.ErrorCount = len(res.Errors)

	if async && res.SuccessCount > 0 {
		taskID, err := s.dispatcher.Enqueue(ctx, models.JobProcessBulk, models.JobPayload{SubmissionIDs: res.SubmissionIDs})
		if err != nil {
			s.log.Warn("submission: enqueue bulk processing failed", "items", res.SuccessCount, "err", err)
		}
		res.TaskID = taskID
	}
	s.log.Info("submission: bulk ingest", "success", res.SuccessCount, "errors", res.ErrorCount, "mode", res.ProcessingMode)
	return res, nil
}

type ListQuery struct {
	FormID   string
	Status   models.Status
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type Page struct {
	Submissions []models.SubmissionOut `json:"submissions"`
	Total       int64                  `json:"total"`
	Page        int                    `json:"page"`
	PageSize    int                    `json:"page_size"`
}

// List pages through a form's submissions, newest first.
func (s *SubmissionService) List(ctx context.Context, caller models.Caller, q ListQuery) (*Page, error) {
	if q.FormID == "" {
		return nil, fmt.Errorf("form_id is required: %w", ErrValidation)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Page < 1 || q.PageSize < 1 || q.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page must be >= 1 and page_size within 1..%d: %w", MaxPageSize, ErrValidation)
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", q.Status, ErrValidation)
	}

	form, err := s.forms.FindByID(ctx, q.FormID)
	if err != nil {
		return nil, fmt.Errorf("load form: %w", err)
	}
	if form == nil {
		return nil, fmt.Errorf("form %s: %w", q.FormID, ErrNotFound)
	}
	if err := s.guard.CheckOrg(ctx, form.OrgID, caller); err != nil {
		return nil, err
	}

	filter := repository.SubmissionFilter{FormID: q.FormID, Status: q.Status, From: q.From, To: q.To}
	subs, total, err := s.subs.List(ctx, filter, (q.Page-1)*q.PageSize, q.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]models.SubmissionOut, len(subs))
	for i := range subs {
		out[i] = subs[i].Out()
	}
	return &Page{Submissions: out, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func (s *SubmissionService) load(ctx context.Context, id string) (*models.Submission, error) {
	sub, err := s.subs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return sub, nil
}

func (s *SubmissionService) Get(ctx context.Context, caller models.Caller, id string) (*models.Submission, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CheckOrg(ctx, sub.OrgID, caller); err != nil {
		return nil, err
	}
	return sub, nil
}

type ReviewInput struct {
	Status models.Status `json:"status" validate:"required"`
	Notes  string        `json:"notes,omitempty" validate:"max=4000"`
}

var reviewerRoles = []models.Role{models.RoleAdmin, models.RoleManager, models.RoleAnalyst}

// Review records a reviewer decision and announces it on the event feed.
func (s *SubmissionService) Review(ctx context.Context, caller models.Caller, id string, in ReviewInput) (*models.Submission, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireRole(ctx, sub.OrgID, caller, reviewerRoles...); err != nil {
		return nil, err
	}
	if err := models.Transition(sub.Status, in.Status); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidState)
	}

	now := s.now()
	found, err := s.subs.UpdateReview(ctx, id, in.Status, caller.UserID, in.Notes, now)
	if err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	sub.Status = in.Status
	sub.ReviewerID = caller.UserID
	sub.ReviewNotes = in.Notes
	sub.ReviewedAt = &now

	evt := map[string]any{
		"event":         events.SubmissionReviewed,
		"submission_id": sub.ID,
		"form_id":       sub.FormID,
		"status":        sub.Status,
		"reviewer_id":   caller.UserID,
		"timestamp":     now,
	}
	if err := s.events.Publish(ctx, sub.OrgID, events.SubmissionReviewed, evt); err != nil {
		s.log.Warn("submission: publish review event failed", "submission_id", id, "err", err)
	}
	return sub, nil
}

func (s *SubmissionService) Delete(ctx context.Context, caller models.Caller, id string) error {
	sub, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.guard.RequireRole(ctx, sub.OrgID, caller, models.RoleAdmin); err != nil {
		return err
	}
	found, err := s.subs.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if !found {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return nil
}
