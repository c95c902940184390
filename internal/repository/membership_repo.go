package repository

import (
	"context"

	"github.com/macleangm-debug/FieldForce/internal/db"
	"github.com/macleangm-debug/FieldForce/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MembershipsCollection = "org_members"

type MembershipRepo struct {
	coll *mongo.Collection
}

func NewMembershipRepo(store *db.Store) *MembershipRepo {
	return &MembershipRepo{coll: store.Collection(MembershipsCollection)}
}

// activeStatus matches "active" and documents that never set a status.
var activeStatus = bson.M{"$in": bson.A{"active", nil}}

func (r *MembershipRepo) FindActive(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	var m models.Membership
	filter := bson.M{"org_id": orgID, "user_id": userID, "status": activeStatus}
	ok, err := findOne(ctx, r.coll, filter, &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

func (r *MembershipRepo) ActiveOrgIDs(ctx context.Context, userID string, orgIDs []string) ([]string, error) {
	orgIDs = dedupe(orgIDs)
	if len(orgIDs) == 0 {
		return []string{}, nil
	}
	filter := bson.M{
		"user_id": userID,
		"org_id":  bson.M{"$in": orgIDs},
		"status":  activeStatus,
	}
	opts := options.Find().SetProjection(bson.M{"org_id": 1})
	ms, err := findAll[models.Membership](ctx, r.coll, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.OrgID)
	}
	return out, nil
}
