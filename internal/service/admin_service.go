package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/access"
	"github.com/macleangm-debug/FieldForce/internal/analytics"
	"github.com/macleangm-debug/FieldForce/internal/models"
)

// JobInspector exposes the durable queue to operators. It is nil when jobs
// run in-process.
type JobInspector interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	Requeue(ctx context.Context, id string) (bool, error)
}

type PendingCounter interface {
	CountPending(ctx context.Context, orgID string) (int64, error)
}

type ReportGenerator interface {
	GenerateReport(ctx context.Context, orgID string, typ models.ReportType, from, to time.Time) (*models.OrgReport, error)
}

type DailyReader interface {
	ListDaily(ctx context.Context, orgID, from, to string) ([]models.DailyStat, error)
}

var errNoQueue = fmt.Errorf("durable job queue is not configured: %w", ErrInvalidState)

type AdminService struct {
	jobs    JobInspector
	pending PendingCounter
	reports ReportGenerator
	daily   DailyReader
	guard   *access.Guard
}

func NewAdminService(jobs JobInspector, pending PendingCounter, reports ReportGenerator, daily DailyReader, guard *access.Guard) *AdminService {
	return &AdminService{jobs: jobs, pending: pending, reports: reports, daily: daily, guard: guard}
}

func requireSuperadmin(caller models.Caller) error {
	if !caller.Superadmin {
		return fmt.Errorf("superadmin required: %w", ErrForbidden)
	}
	return nil
}

// ListJobs returns jobs in one status, oldest first. Superadmin only since
// jobs span organizations.
func (s *AdminService) ListJobs(ctx context.Context, caller models.Caller, status models.JobStatus, limit int) ([]models.Job, error) {
	if err := requireSuperadmin(caller); err != nil {
		return nil, err
	}
	if s.jobs == nil {
		return nil, errNoQueue
	}
	switch status {
	case models.JobQueued, models.JobRunning, models.JobDone, models.JobDead:
	default:
		return nil, fmt.Errorf("unknown job status %q: %w", status, ErrValidation)
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	jobs, err := s.jobs.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return jobs, nil
}

func (s *AdminService) RequeueJob(ctx context.Context, caller models.Caller, id string) error {
	if err := requireSuperadmin(caller); err != nil {
		return err
	}
	if s.jobs == nil {
		return errNoQueue
	}
	ok, err := s.jobs.Requeue(ctx, id)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if !ok {
		return fmt.Errorf("dead job %s: %w", id, ErrNotFound)
	}
	return nil
}

// Job returns a job for task tracking, such as the task_id of a bulk ingest.
func (s *AdminService) Job(ctx context.Context, id string) (*models.Job, error) {
	if s.jobs == nil {
		return nil, errNoQueue
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// PendingCount counts submissions whose background scoring has not finished.
// Without an org it counts across all orgs and needs a superadmin.
func (s *AdminService) PendingCount(ctx context.Context, caller models.Caller, orgID string) (int64, error) {
	if orgID == "" {
		if err := requireSuperadmin(caller); err != nil {
			return 0, err
		}
	} else if err := s.guard.RequireRole(ctx, orgID, caller, models.RoleAdmin, models.RoleManager); err != nil {
		return 0, err
	}
	n, err := s.pending.CountPending(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

type ReportRequest struct {
	OrgID string            `json:"org_id" validate:"required"`
	Type  models.ReportType `json:"report_type" validate:"required,oneof=summary team_performance"`
	From  time.Time         `json:"start" validate:"required"`
	To    time.Time         `json:"end" validate:"required,gtfield=From"`
}

func (s *AdminService) GenerateReport(ctx context.Context, caller models.Caller, req ReportRequest) (*models.OrgReport, error) {
	if err := s.guard.RequireRole(ctx, req.OrgID, caller, models.RoleAdmin, models.RoleManager); err != nil {
		return nil, err
	}
	rep, err := s.reports.GenerateReport(ctx, req.OrgID, req.Type, req.From, req.To)
	if errors.Is(err, analytics.ErrUnknownReport) {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}
	return rep, err
}

// Daily reads an org's daily rollups between two YYYY-MM-DD dates inclusive.
func (s *AdminService) Daily(ctx context.Context, caller models.Caller, orgID, from, to string) ([]models.DailyStat, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org_id is required: %w", ErrValidation)
	}
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("date %q must be YYYY-MM-DD: %w", d, ErrValidation)
		}
	}
	if err := s.guard.CheckOrg(ctx, orgID, caller); err != nil {
		return nil, err
	}
	stats, err := s.daily.ListDaily(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	if stats == nil {
		stats = []models.DailyStat{}
	}
	return stats, nil
}
