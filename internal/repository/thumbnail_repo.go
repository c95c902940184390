package repository

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/macleangm-debug/FieldForce/internal/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ThumbnailBucket = "media_thumbnails"

// ErrThumbnailNotFound is returned by Download for unknown ids.
var ErrThumbnailNotFound = errors.New("thumbnail not found")

// ThumbnailRepo stores generated media thumbnails in GridFS.
type ThumbnailRepo struct {
	bucket *gridfs.Bucket
}

func NewThumbnailRepo(store *db.Store) (*ThumbnailRepo, error) {
	b, err := gridfs.NewBucket(store.Database(), options.GridFSBucket().SetName(ThumbnailBucket))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &ThumbnailRepo{bucket: b}, nil
}

// Upload stores one thumbnail under name and returns its hex id. Older files
// with the same name are removed once the new one is written, so re-running
// media validation keeps one thumbnail per submission field.
func (r *ThumbnailRepo) Upload(name, contentType, submissionID string, src io.Reader) (string, error) {
	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "content_type", Value: contentType},
		{Key: "submission_id", Value: submissionID},
	})
	id, err := r.bucket.UploadFromStream(name, src, opts)
	if err != nil {
		return "", err
	}
	if err := r.deleteOthers(name, id); err != nil {
		return id.Hex(), fmt.Errorf("remove stale thumbnails for %s: %w", name, err)
	}
	return id.Hex(), nil
}

func (r *ThumbnailRepo) deleteOthers(name string, keep primitive.ObjectID) error {
	cur, err := r.bucket.Find(bson.M{"filename": name, "_id": bson.M{"$ne": keep}})
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer cur.Close(ctx)
	var stale []primitive.ObjectID
	for cur.Next(ctx) {
		var f struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&f); err != nil {
			return err
		}
		stale = append(stale, f.ID)
	}
	if err := cur.Err(); err != nil {
		return err
	}
	for _, oid := range stale {
		if err := r.bucket.Delete(oid); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return err
		}
	}
	return nil
}

// Download streams a stored thumbnail into w.
func (r *ThumbnailRepo) Download(id string, w io.Writer) (int64, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, ErrThumbnailNotFound
	}
	n, err := r.bucket.DownloadToStream(oid, w)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return 0, ErrThumbnailNotFound
	}
	return n, err
}
