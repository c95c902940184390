// Package analytics rolls submissions up into hourly, daily and per-member
// statistics, sweeps expired data and builds on-demand org reports.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/models"
)

// Store is the subset of the analytics repository the aggregator needs.
type Store interface {
	HourlyGroups(ctx context.Context, from, to time.Time) ([]models.HourlyStat, error)
	UpsertHourly(ctx context.Context, s models.HourlyStat) error
	DailyGroups(ctx context.Context, from, to time.Time) ([]models.DailyStat, error)
	UpsertDaily(ctx context.Context, s models.DailyStat) error
	TeamGroups(ctx context.Context, from, to time.Time) ([]models.TeamDailyStat, error)
	UpsertTeam(ctx context.Context, s models.TeamDailyStat) error
	DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (sessions, messages int64, err error)
	ReportSummary(ctx context.Context, orgID string, from, to time.Time) (*models.ReportSummaryData, error)
	ReportTeam(ctx context.Context, orgID string, from, to time.Time) ([]models.TeamMemberStat, error)
	InsertReport(ctx context.Context, rep *models.OrgReport) error
}

type Archiver interface {
	ArchiveBefore(ctx context.Context, cutoff, now time.Time) (int64, error)
}

const (
	HourlyRetention  = 7 * 24 * time.Hour
	SessionRetention = 30 * 24 * time.Hour
	ArchiveAfter     = 365 * 24 * time.Hour
)

var ErrUnknownReport = errors.New("unknown report type")

type HourlyResult struct {
	PeriodStart  time.Time `json:"period_start"`
	Aggregations int       `json:"aggregations"`
}

type DailyResult struct {
	Date             string `json:"date"`
	OrgAggregations  int    `json:"org_aggregations"`
	TeamAggregations int    `json:"team_aggregations"`
}

type Aggregator struct {
	store    Store
	archiver Archiver
	log      *slog.Logger
	now      func() time.Time
}

func NewAggregator(store Store, archiver Archiver, log *slog.Logger) *Aggregator {
	return &Aggregator{
		store:    store,
		archiver: archiver,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunHourly rolls up the hour containing at. Re-running a window overwrites
// the same rows.
func (a *Aggregator) RunHourly(ctx context.Context, at time.Time) (HourlyResult, error) {
	from, to := HourWindow(at)
	res := HourlyResult{PeriodStart: from}
	stats, err := a.store.HourlyGroups(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("hourly groups: %w", err)
	}
	now := a.now()
	for _, s := range stats {
		s.UpdatedAt = now
		if err := a.store.UpsertHourly(ctx, s); err != nil {
			return res, fmt.Errorf("upsert hourly %s/%s: %w", s.OrgID, s.FormID, err)
		}
		res.Aggregations++
	}
	a.log.Info("analytics: hourly rollup", "period_start", from, "aggregations", res.Aggregations)
	return res, nil
}

// RunDaily rolls up the UTC day containing at, per org and per member.
func (a *Aggregator) RunDaily(ctx context.Context, at time.Time) (DailyResult, error) {
	from, to := DayWindow(at)
	res := DailyResult{Date: from.Format(time.DateOnly)}
	now := a.now()

	daily, err := a.store.DailyGroups(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("daily groups: %w", err)
	}
	for _, s := range daily {
		s.UpdatedAt = now
		if err := a.store.UpsertDaily(ctx, s); err != nil {
			return res, fmt.Errorf("upsert daily %s: %w", s.OrgID, err)
		}
		res.OrgAggregations++
	}

	team, err := a.store.TeamGroups(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("team groups: %w", err)
	}
	for _, s := range team {
		s.UpdatedAt = now
		if err := a.store.UpsertTeam(ctx, s); err != nil {
			return res, fmt.Errorf("upsert team %s/%s: %w", s.OrgID, s.UserID, err)
		}
		res.TeamAggregations++
	}
	a.log.Info("analytics: daily rollup", "date", res.Date, "orgs", res.OrgAggregations, "members", res.TeamAggregations)
	return res, nil
}

// Retention deletes expired hourly rollups and chat sessions and archives
// year-old submissions. Submissions are never deleted.
func (a *Aggregator) Retention(ctx context.Context, at time.Time) (models.RetentionResult, error) {
	var res models.RetentionResult
	var err error

	if res.HourlyDeleted, err = a.store.DeleteHourlyBefore(ctx, at.Add(-HourlyRetention)); err != nil {
		return res, fmt.Errorf("delete hourly: %w", err)
	}
	if res.SessionsDeleted, res.MessagesDeleted, err = a.store.DeleteSessionsBefore(ctx, at.Add(-SessionRetention)); err != nil {
		return res, fmt.Errorf("delete sessions: %w", err)
	}
	if res.SubmissionsArchived, err = a.archiver.ArchiveBefore(ctx, at.Add(-ArchiveAfter), a.now()); err != nil {
		return res, fmt.Errorf("archive submissions: %w", err)
	}
	a.log.Info("analytics: retention sweep",
		"hourly_deleted", res.HourlyDeleted,
		"sessions_deleted", res.SessionsDeleted,
		"messages_deleted", res.MessagesDeleted,
		"archived", res.SubmissionsArchived)
	return res, nil
}

// GenerateReport computes and stores a report over submissions with
// from <= submitted_at <= to.
func (a *Aggregator) GenerateReport(ctx context.Context, orgID string, typ models.ReportType, from, to time.Time) (*models.OrgReport, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReport, typ)
	}
	now := a.now()
	rep := &models.OrgReport{
		ID:          ReportID(orgID, typ, now),
		OrgID:       orgID,
		Type:        typ,
		From:        from,
		To:          to,
		GeneratedAt: now,
	}
	var err error
	switch typ {
	case models.ReportSummary:
		rep.Summary, err = a.store.ReportSummary(ctx, orgID, from, to)
	case models.ReportTeamPerformance:
		rep.TeamPerformance, err = a.store.ReportTeam(ctx, orgID, from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s report: %w", typ, err)
	}
	if err := a.store.InsertReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	return rep, nil
}

func ReportID(orgID string, typ models.ReportType, at time.Time) string {
	return fmt.Sprintf("report_%s_%s_%s", orgID, typ, at.UTC().Format("20060102150405"))
}

// HourWindow returns the UTC hour [from, to) containing t.
func HourWindow(t time.Time) (from, to time.Time) {
	from = t.UTC().Truncate(time.Hour)
	return from, from.Add(time.Hour)
}

// DayWindow returns the UTC day [from, to) containing t.
func DayWindow(t time.Time) (from, to time.Time) {
	u := t.UTC()
	from = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

// PreviousHour is the last complete hour before now.
func PreviousHour(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour).Add(-time.Hour)
}

// PreviousDay is the start of the last complete UTC day before now.
func PreviousDay(now time.Time) time.Time {
	from, _ := DayWindow(now)
	return from.AddDate(0, 0, -1)
}
