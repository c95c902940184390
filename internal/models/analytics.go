package models

import "time"

// HourlyStat is one (org, project, form) rollup for an hour window.
type HourlyStat struct {
	OrgID           string    `bson:"org_id" json:"org_id"`
	ProjectID       string    `bson:"project_id" json:"project_id"`
	FormID          string    `bson:"form_id" json:"form_id"`
	Period          string    `bson:"period" json:"period"`
	PeriodStart     time.Time `bson:"period_start" json:"period_start"`
	PeriodEnd       time.Time `bson:"period_end" json:"period_end"`
	SubmissionCount int       `bson:"submission_count" json:"submission_count"`
	AvgQualityScore *float64  `bson:"avg_quality_score" json:"avg_quality_score"`
	ApprovedCount   int       `bson:"approved_count" json:"approved_count"`
	PendingCount    int       `bson:"pending_count" json:"pending_count"`
	FlaggedCount    int       `bson:"flagged_count" json:"flagged_count"`
	RejectedCount   int       `bson:"rejected_count" json:"rejected_count"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

type DailyStat struct {
	OrgID                string    `bson:"org_id" json:"org_id"`
	Date                 string    `bson:"date" json:"date"`
	Period               string    `bson:"period" json:"period"`
	TotalSubmissions     int       `bson:"total_submissions" json:"total_submissions"`
	UniqueForms          int       `bson:"unique_forms" json:"unique_forms"`
	UniqueUsers          int       `bson:"unique_users" json:"unique_users"`
	AvgQualityScore      *float64  `bson:"avg_quality_score" json:"avg_quality_score"`
	ApprovedCount        int       `bson:"approved_count" json:"approved_count"`
	SubmissionsWithGPS   int       `bson:"submissions_with_gps" json:"submissions_with_gps"`
	SubmissionsWithMedia int       `bson:"submissions_with_media" json:"submissions_with_media"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

type TeamDailyStat struct {
	OrgID           string    `bson:"org_id" json:"org_id"`
	UserID          string    `bson:"user_id" json:"user_id"`
	Date            string    `bson:"date" json:"date"`
	SubmissionCount int       `bson:"submission_count" json:"submission_count"`
	AvgQualityScore *float64  `bson:"avg_quality_score" json:"avg_quality_score"`
	FormsUsed       int       `bson:"forms_used" json:"forms_used"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

type ReportType string

const (
	ReportSummary         ReportType = "summary"
	ReportTeamPerformance ReportType = "team_performance"
)

func (t ReportType) Valid() bool {
	return t == ReportSummary || t == ReportTeamPerformance
}

type QualityBucket struct {
	// Lower bound of the bucket; nil collects submissions without a score.
	Min   *float64 `bson:"min" json:"min"`
	Count int      `bson:"count" json:"count"`
}

type ReportSummaryData struct {
	TotalSubmissions    int             `bson:"total_submissions" json:"total_submissions"`
	ApprovedSubmissions int             `bson:"approved_submissions" json:"approved_submissions"`
	ApprovalRate        float64         `bson:"approval_rate" json:"approval_rate"`
	QualityDistribution []QualityBucket `bson:"quality_distribution" json:"quality_distribution"`
}

type TeamMemberStat struct {
	UserID          string   `bson:"user_id" json:"user_id"`
	Submissions     int      `bson:"submissions" json:"submissions"`
	AvgQualityScore *float64 `bson:"avg_quality_score" json:"avg_quality_score"`
	Approved        int      `bson:"approved" json:"approved"`
}

type OrgReport struct {
	ID              string             `bson:"id" json:"id"`
	OrgID           string             `bson:"org_id" json:"org_id"`
	Type            ReportType         `bson:"report_type" json:"report_type"`
	From            time.Time          `bson:"from" json:"from"`
	To              time.Time          `bson:"to" json:"to"`
	Summary         *ReportSummaryData `bson:"summary,omitempty" json:"summary,omitempty"`
	TeamPerformance []TeamMemberStat   `bson:"team_performance,omitempty" json:"team_performance,omitempty"`
	GeneratedAt     time.Time          `bson:"generated_at" json:"generated_at"`
}

// RetentionResult counts what one retention sweep touched.
type RetentionResult struct {
	HourlyDeleted       int64 `json:"hourly_stats_deleted"`
	SessionsDeleted     int64 `json:"old_sessions_deleted"`
	MessagesDeleted     int64 `json:"old_messages_deleted"`
	SubmissionsArchived int64 `json:"submissions_archived"`
}
