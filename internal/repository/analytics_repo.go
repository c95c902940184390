package repository

import (
	"context"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/db"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	HourlyCollection       = "analytics_hourly"
	DailyCollection        = "analytics_daily"
	TeamDailyCollection    = "analytics_team_daily"
	ReportsCollection      = "reports"
	ChatSessionsCollection = "help_chat_sessions"
	ChatMessagesCollection = "help_chat_messages"
)

// AnalyticsRepo runs rollup pipelines over submissions and stores their
// results keyed by period.
type AnalyticsRepo struct {
	db          *mongo.Database
	submissions *mongo.Collection
	hourly      *mongo.Collection
	daily       *mongo.Collection
	team        *mongo.Collection
	reports     *mongo.Collection
}

func NewAnalyticsRepo(store *db.Store) *AnalyticsRepo {
	d := store.Database()
	return &AnalyticsRepo{
		db:          d,
		submissions: d.Collection(SubmissionsCollection),
		hourly:      d.Collection(HourlyCollection),
		daily:       d.Collection(DailyCollection),
		team:        d.Collection(TeamDailyCollection),
		reports:     d.Collection(ReportsCollection),
	}
}

func (r *AnalyticsRepo) EnsureIndexes(ctx context.Context) error {
	if _, err := r.hourly.Indexes().CreateOne(ctx, uniqueIndex(bson.D{
		{Key: "org_id", Value: 1}, {Key: "project_id", Value: 1}, {Key: "form_id", Value: 1}, {Key: "period_start", Value: 1},
	})); err != nil {
		return err
	}
	if _, err := r.daily.Indexes().CreateOne(ctx, uniqueIndex(bson.D{
		{Key: "org_id", Value: 1}, {Key: "date", Value: 1},
	})); err != nil {
		return err
	}
	if _, err := r.team.Indexes().CreateOne(ctx, uniqueIndex(bson.D{
		{Key: "org_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "date", Value: 1},
	})); err != nil {
		return err
	}
	_, err := r.reports.Indexes().CreateOne(ctx, uniqueIndex(bson.D{{Key: "id", Value: 1}}))
	return err
}

// inWindow matches submissions with from <= submitted_at < to.
func inWindow(from, to time.Time) bson.M {
	return bson.M{"submitted_at": bson.M{"$gte": from, "$lt": to}}
}

func countIf(field string, value any) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$" + field, value}}, 1, 0}}}
}

type hourlyRow struct {
	Key struct {
		OrgID     string `bson:"org_id"`
		ProjectID string `bson:"project_id"`
		FormID    string `bson:"form_id"`
	} `bson:"_id"`
	Count    int      `bson:"count"`
	AvgScore *float64 `bson:"avg_quality"`
	Approved int      `bson:"approved"`
	Pending  int      `bson:"pending"`
	Flagged  int      `bson:"flagged"`
	Rejected int      `bson:"rejected"`
}

// HourlyGroups groups submissions in [from, to) by (org, project, form).
func (r *AnalyticsRepo) HourlyGroups(ctx context.Context, from, to time.Time) ([]models.HourlyStat, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: inWindow(from, to)}},
		{{Key: "$group", Value: bson.M{
			"_id":         bson.M{"org_id": "$org_id", "project_id": "$project_id", "form_id": "$form_id"},
			"count":       bson.M{"$sum": 1},
			"avg_quality": bson.M{"$avg": "$quality_score"},
			"approved":    countIf("status", models.StatusApproved),
			"pending":     countIf("status", models.StatusPending),
			"flagged":     countIf("status", models.StatusFlagged),
			"rejected":    countIf("status", models.StatusRejected),
		}}},
	}
	cur, err := r.submissions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []hourlyRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]models.HourlyStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.HourlyStat{
			OrgID:           row.Key.OrgID,
			ProjectID:       row.Key.ProjectID,
			FormID:          row.Key.FormID,
			Period:          "hourly",
			PeriodStart:     from,
			PeriodEnd:       to,
			SubmissionCount: row.Count,
			AvgQualityScore: row.AvgScore,
			ApprovedCount:   row.Approved,
			PendingCount:    row.Pending,
			FlaggedCount:    row.Flagged,
			RejectedCount:   row.Rejected,
		})
	}
	return out, nil
}

func (r *AnalyticsRepo) UpsertHourly(ctx context.Context, s models.HourlyStat) error {
	key := bson.M{"org_id": s.OrgID, "project_id": s.ProjectID, "form_id": s.FormID, "period_start": s.PeriodStart}
	_, err := r.hourly.UpdateOne(ctx, key, bson.M{"$set": s}, options.Update().SetUpsert(true))
	return err
}

type dailyRow struct {
	OrgID     string   `bson:"_id"`
	Total     int      `bson:"total"`
	Forms     []string `bson:"forms"`
	Users     []string `bson:"users"`
	AvgScore  *float64 `bson:"avg_quality"`
	Approved  int      `bson:"approved"`
	WithGPS   int      `bson:"with_gps"`
	WithMedia int      `bson:"with_media"`
}

// DailyGroups groups submissions in [from, to) by org.
func (r *AnalyticsRepo) DailyGroups(ctx context.Context, from, to time.Time) ([]models.DailyStat, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: inWindow(from, to)}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$org_id",
			"total":       bson.M{"$sum": 1},
			"forms":       bson.M{"$addToSet": "$form_id"},
			"users":       bson.M{"$addToSet": "$submitted_by"},
			"avg_quality": bson.M{"$avg": "$quality_score"},
			"approved":    countIf("status", models.StatusApproved),
			"with_gps": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$gt": bson.A{"$gps_location", nil}}, 1, 0,
			}}},
			"with_media": countIf("has_media", true),
		}}},
	}
	cur, err := r.submissions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []dailyRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	date := from.Format(time.DateOnly)
	out := make([]models.DailyStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.DailyStat{
			OrgID:                row.OrgID,
			Date:                 date,
			Period:               "daily",
			TotalSubmissions:     row.Total,
			UniqueForms:          len(row.Forms),
			UniqueUsers:          len(row.Users),
			AvgQualityScore:      row.AvgScore,
			ApprovedCount:        row.Approved,
			SubmissionsWithGPS:   row.WithGPS,
			SubmissionsWithMedia: row.WithMedia,
		})
	}
	return out, nil
}

func (r *AnalyticsRepo) UpsertDaily(ctx context.Context, s models.DailyStat) error {
	key := bson.M{"org_id": s.OrgID, "date": s.Date}
	_, err := r.daily.UpdateOne(ctx, key, bson.M{"$set": s}, options.Update().SetUpsert(true))
	return err
}

type teamRow struct {
	Key struct {
		OrgID  string `bson:"org_id"`
		UserID string `bson:"user_id"`
	} `bson:"_id"`
	Count    int      `bson:"count"`
	AvgScore *float64 `bson:"avg_quality"`
	Forms    []string `bson:"forms"`
}

// TeamGroups groups submissions in [from, to) by (org, submitter).
func (r *AnalyticsRepo) TeamGroups(ctx context.Context, from, to time.Time) ([]models.TeamDailyStat, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: inWindow(from, to)}},
		{{Key: "$group", Value: bson.M{
			"_id":         bson.M{"org_id": "$org_id", "user_id": "$submitted_by"},
			"count":       bson.M{"$sum": 1},
			"avg_quality": bson.M{"$avg": "$quality_score"},
			"forms":       bson.M{"$addToSet": "$form_id"},
		}}},
	}
	cur, err := r.submissions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []teamRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	date := from.Format(time.DateOnly)
	out := make([]models.TeamDailyStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.TeamDailyStat{
			OrgID:           row.Key.OrgID,
			UserID:          row.Key.UserID,
			Date:            date,
			SubmissionCount: row.Count,
			AvgQualityScore: row.AvgScore,
			FormsUsed:       len(row.Forms),
		})
	}
	return out, nil
}

func (r *AnalyticsRepo) UpsertTeam(ctx context.Context, s models.TeamDailyStat) error {
	key := bson.M{"org_id": s.OrgID, "user_id": s.UserID, "date": s.Date}
	_, err := r.team.UpdateOne(ctx, key, bson.M{"$set": s}, options.Update().SetUpsert(true))
	return err
}

// ListDaily returns an org's daily rollups with from <= date <= to
// (YYYY-MM-DD strings compare in date order).
func (r *AnalyticsRepo) ListDaily(ctx context.Context, orgID, from, to string) ([]models.DailyStat, error) {
	q := bson.M{"org_id": orgID}
	rng := bson.M{}
	if from != "" {
		rng["$gte"] = from
	}
	if to != "" {
		rng["$lte"] = to
	}
	if len(rng) > 0 {
		q["date"] = rng
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
	return findAll[models.DailyStat](ctx, r.daily, q, opts)
}

func (r *AnalyticsRepo) DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.hourly.DeleteMany(ctx, bson.M{"period_start": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteSessionsBefore purges help-chat sessions and their messages.
func (r *AnalyticsRepo) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (sessions, messages int64, err error) {
	res, err := r.db.Collection(ChatSessionsCollection).DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, 0, err
	}
	sessions = res.DeletedCount
	res, err = r.db.Collection(ChatMessagesCollection).DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return sessions, 0, err
	}
	return sessions, res.DeletedCount, nil
}

func reportMatch(orgID string, from, to time.Time) bson.M {
	return bson.M{"org_id": orgID, "submitted_at": bson.M{"$gte": from, "$lte": to}}
}

// ReportSummary counts an org's submissions in [from, to] and buckets their
// quality scores.
func (r *AnalyticsRepo) ReportSummary(ctx context.Context, orgID string, from, to time.Time) (*models.ReportSummaryData, error) {
	q := reportMatch(orgID, from, to)
	total, err := r.submissions.CountDocuments(ctx, q)
	if err != nil {
		return nil, err
	}
	aq := reportMatch(orgID, from, to)
	aq["status"] = models.StatusApproved
	approved, err := r.submissions.CountDocuments(ctx, aq)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: q}},
		{{Key: "$bucket", Value: bson.M{
			"groupBy":    "$quality_score",
			"boundaries": bson.A{0, 50, 70, 85, 100, 101},
			"default":    "unscored",
			"output":     bson.M{"count": bson.M{"$sum": 1}},
		}}},
	}
	cur, err := r.submissions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID    any `bson:"_id"`
		Count int `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	buckets := make([]models.QualityBucket, 0, len(rows))
	for _, row := range rows {
		b := models.QualityBucket{Count: row.Count}
		if n, ok := models.FromAny(row.ID).AsNumber(); ok {
			b.Min = &n
		}
		buckets = append(buckets, b)
	}

	sum := &models.ReportSummaryData{
		TotalSubmissions:    int(total),
		ApprovedSubmissions: int(approved),
		QualityDistribution: buckets,
	}
	if total > 0 {
		sum.ApprovalRate = float64(int(float64(approved)/float64(total)*10000+0.5)) / 100
	}
	return sum, nil
}

func (r *AnalyticsRepo) ReportTeam(ctx context.Context, orgID string, from, to time.Time) ([]models.TeamMemberStat, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: reportMatch(orgID, from, to)}},
		{{Key: "$group", Value: bson.M{
			"_id":               "$submitted_by",
			"submissions":       bson.M{"$sum": 1},
			"avg_quality_score": bson.M{"$avg": "$quality_score"},
			"approved":          countIf("status", models.StatusApproved),
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "submissions", Value: -1}}}},
		{{Key: "$project", Value: bson.M{
			"_id": 0, "user_id": "$_id", "submissions": 1, "avg_quality_score": 1, "approved": 1,
		}}},
	}
	cur, err := r.submissions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	out := []models.TeamMemberStat{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AnalyticsRepo) InsertReport(ctx context.Context, rep *models.OrgReport) error {
	_, err := r.reports.InsertOne(ctx, rep)
	return err
}
