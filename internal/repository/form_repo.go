package repository

import (
	"context"

	"github.com/macleangm-debug/FieldForce/internal/db"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const FormsCollection = "forms"

// FormRepo reads forms owned by the form-management service.
type FormRepo struct {
	coll *mongo.Collection
}

func NewFormRepo(store *db.Store) *FormRepo {
	return &FormRepo{coll: store.Collection(FormsCollection)}
}

func (r *FormRepo) FindByID(ctx context.Context, id string) (*models.Form, error) {
	var f models.Form
	ok, err := findOne(ctx, r.coll, bson.M{"id": id}, &f)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

// FindByIDs fetches every listed form in one query.
func (r *FormRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Form, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []models.Form{}, nil
	}
	return findAll[models.Form](ctx, r.coll, byIDs(ids))
}
