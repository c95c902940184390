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

const JobsCollection = "jobs"

type JobRepo struct {
	coll *mongo.Collection
}

func NewJobRepo(store *db.Store) *JobRepo {
	return &JobRepo{coll: store.Collection(JobsCollection)}
}

func (r *JobRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		uniqueIndex(bson.D{{Key: "id", Value: 1}}),
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "run_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "locked_until", Value: 1}}},
	})
	return err
}

func (r *JobRepo) Insert(ctx context.Context, job *models.Job) error {
	_, err := r.coll.InsertOne(ctx, job)
	return err
}

// Claim atomically leases the oldest due job. Running jobs whose lease has
// expired are claimable again, so a crashed worker's job is retried. A nil
// job means nothing is due.
func (r *JobRepo) Claim(ctx context.Context, workerID string, kinds []models.JobKind, now time.Time, lease time.Duration) (*models.Job, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"status": models.JobQueued, "run_at": bson.M{"$lte": now}},
			bson.M{"status": models.JobRunning, "locked_until": bson.M{"$lte": now}},
		},
	}
	if len(kinds) > 0 {
		filter["kind"] = bson.M{"$in": kinds}
	}
	update := bson.M{
		"$set": bson.M{
			"status":       models.JobRunning,
			"locked_by":    workerID,
			"locked_until": now.Add(lease),
			"updated_at":   now,
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "run_at", Value: 1}}).
		SetReturnDocument(options.After)

	var job models.Job
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// owned restricts a transition to the worker holding the lease.
func owned(id, workerID string) bson.M {
	return bson.M{"id": id, "status": models.JobRunning, "locked_by": workerID}
}

func (r *JobRepo) MarkDone(ctx context.Context, id, workerID string, now time.Time) error {
	_, err := r.coll.UpdateOne(ctx, owned(id, workerID), bson.M{
		"$set":   bson.M{"status": models.JobDone, "completed_at": now, "updated_at": now},
		"$unset": bson.M{"locked_until": "", "locked_by": ""},
	})
	return err
}

// Reschedule puts a failed job back in the queue to run at runAt.
func (r *JobRepo) Reschedule(ctx context.Context, id, workerID, lastErr string, runAt, now time.Time) error {
	_, err := r.coll.UpdateOne(ctx, owned(id, workerID), bson.M{
		"$set":   bson.M{"status": models.JobQueued, "run_at": runAt, "last_error": lastErr, "updated_at": now},
		"$unset": bson.M{"locked_until": "", "locked_by": ""},
	})
	return err
}

func (r *JobRepo) MarkDead(ctx context.Context, id, workerID, lastErr string, now time.Time) error {
	_, err := r.coll.UpdateOne(ctx, owned(id, workerID), bson.M{
		"$set":   bson.M{"status": models.JobDead, "last_error": lastErr, "updated_at": now},
		"$unset": bson.M{"locked_until": "", "locked_by": ""},
	})
	return err
}

// Requeue revives a dead job with a fresh attempt budget. It reports false
// if no dead job has that id.
func (r *JobRepo) Requeue(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"id": id, "status": models.JobDead},
		bson.M{"$set": bson.M{"status": models.JobQueued, "attempts": 0, "run_at": now, "updated_at": now}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (r *JobRepo) FindByID(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	ok, err := findOne(ctx, r.coll, bson.M{"id": id}, &j)
	if err != nil || !ok {
		return nil, err
	}
	return &j, nil
}

func (r *JobRepo) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit))
	return findAll[models.Job](ctx, r.coll, bson.M{"status": status}, opts)
}
