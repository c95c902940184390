package repository

import (
	"context"
	"errors"
	"time"

	"github.com/macleangm-debug/FieldForce/internal/db"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const SubmissionsCollection = "submissions"

type SubmissionRepo struct {
	coll *mongo.Collection
}

func NewSubmissionRepo(store *db.Store) *SubmissionRepo {
	return &SubmissionRepo{coll: store.Collection(SubmissionsCollection)}
}

func (r *SubmissionRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		uniqueIndex(bson.D{{Key: "id", Value: 1}}),
		{Keys: bson.D{{Key: "form_id", Value: 1}, {Key: "submitted_at", Value: -1}}},
		{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "submitted_at", Value: -1}}},
		{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "processing_status", Value: 1}, {Key: "submitted_at", Value: 1}}},
	})
	return err
}

func (r *SubmissionRepo) Insert(ctx context.Context, sub *models.Submission) error {
	_, err := r.coll.InsertOne(ctx, sub)
	return err
}

// BulkInsertResult reports an unordered insert. Failed is keyed by position
// in the slice passed to BulkInsert.
type BulkInsertResult struct {
	Inserted int
	Failed   map[int]string
}

// BulkInsert writes all subs in one unordered round-trip. Per-record write
// errors are returned in the result; the error return is reserved for
// failures of the whole operation.
func (r *SubmissionRepo) BulkInsert(ctx context.Context, subs []*models.Submission) (BulkInsertResult, error) {
	res := BulkInsertResult{Failed: map[int]string{}}
	if len(subs) == 0 {
		return res, nil
	}
	writes := make([]mongo.WriteModel, len(subs))
	for i, s := range subs {
		writes[i] = mongo.NewInsertOneModel().SetDocument(s)
	}

	_, err := r.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err == nil {
		res.Inserted = len(subs)
		return res, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return BulkInsertResult{}, err
	}
	for _, we := range bwe.WriteErrors {
		res.Failed[we.Index] = we.Message
	}
	res.Inserted = len(subs) - len(res.Failed)
	return res, nil
}

func (r *SubmissionRepo) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	var s models.Submission
	ok, err := findOne(ctx, r.coll, bson.M{"id": id}, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Submission, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []models.Submission{}, nil
	}
	return findAll[models.Submission](ctx, r.coll, byIDs(ids))
}

// SubmissionFilter narrows List. Zero fields are ignored.
type SubmissionFilter struct {
	FormID string
	Status models.Status
	From   *time.Time
	To     *time.Time
}

func (f SubmissionFilter) query() bson.M {
	q := bson.M{"form_id": f.FormID}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.From != nil || f.To != nil {
		rng := bson.M{}
		if f.From != nil {
			rng["$gte"] = *f.From
		}
		if f.To != nil {
			rng["$lte"] = *f.To
		}
		q["submitted_at"] = rng
	}
	return q
}

// List returns one page sorted newest first, plus the total match count.
func (r *SubmissionRepo) List(ctx context.Context, f SubmissionFilter, skip, limit int) ([]models.Submission, int64, error) {
	q := f.query()
	total, err := r.coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "submitted_at", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	subs, err := findAll[models.Submission](ctx, r.coll, q, opts)
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

// ProcessingUpdate is what the post-processing job writes. A nil Score
// leaves the stored score untouched.
type ProcessingUpdate struct {
	Score        *float64
	Flags        []string
	GPSValidated *bool
	ProcessedAt  time.Time
}

func (r *SubmissionRepo) CompleteProcessing(ctx context.Context, id string, u ProcessingUpdate) error {
	set := bson.M{
		"processing_status": models.ProcessingCompleted,
		"processed_at":      u.ProcessedAt,
	}
	if u.Score != nil {
		set["quality_score"] = *u.Score
		set["quality_flags"] = u.Flags
	}
	if u.GPSValidated != nil {
		set["gps_validated"] = *u.GPSValidated
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	return err
}

type QualityUpdate struct {
	ID    string
	Score float64
	Flags []string
}

// BulkSetQuality applies scores in one unordered write. Only submissions
// still missing a score are touched, so a re-run never overwrites.
func (r *SubmissionRepo) BulkSetQuality(ctx context.Context, updates []QualityUpdate, at time.Time) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	writes := make([]mongo.WriteModel, len(updates))
	for i, u := range updates {
		writes[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"id": u.ID, "quality_score": nil}).
			SetUpdate(bson.M{"$set": bson.M{
				"quality_score":     u.Score,
				"quality_flags":     u.Flags,
				"processing_status": models.ProcessingCompleted,
				"processed_at":      at,
			}})
	}
	res, err := r.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *SubmissionRepo) SetMediaResults(ctx context.Context, id string, validated bool, results []models.MediaResult) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"media_validated":          validated,
		"media_validation_results": results,
	}})
	return err
}

// UpdateReview sets the review outcome. It reports false if the submission
// no longer exists.
func (r *SubmissionRepo) UpdateReview(ctx context.Context, id string, status models.Status, reviewerID, notes string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"status":       status,
		"reviewer_id":  reviewerID,
		"reviewed_at":  at,
		"review_notes": notes,
	}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *SubmissionRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// CountPending counts submissions whose background scoring never completed.
// An empty orgID counts across all orgs.
func (r *SubmissionRepo) CountPending(ctx context.Context, orgID string) (int64, error) {
	q := bson.M{"processing_status": models.ProcessingPending}
	if orgID != "" {
		q["org_id"] = orgID
	}
	return r.coll.CountDocuments(ctx, q)
}

// ArchiveBefore marks submissions older than cutoff as archived.
func (r *SubmissionRepo) ArchiveBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"submitted_at": bson.M{"$lt": cutoff}, "archived": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"archived": true, "archived_at": now}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
