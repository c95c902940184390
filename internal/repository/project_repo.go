package repository

import (
	"context"

	"github.com/macleangm-debug/FieldForce/internal/db"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const ProjectsCollection = "projects"

type ProjectRepo struct {
	coll *mongo.Collection
}

func NewProjectRepo(store *db.Store) *ProjectRepo {
	return &ProjectRepo{coll: store.Collection(ProjectsCollection)}
}

func (r *ProjectRepo) FindByID(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	ok, err := findOne(ctx, r.coll, bson.M{"id": id}, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}
