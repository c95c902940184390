package models

import "go.mongodb.org/mongo-driver/bson"

type Project struct {
	ID    string `bson:"id" json:"id"`
	OrgID string `bson:"org_id" json:"org_id"`
	// Geofence is a GeoJSON Polygon or MultiPolygon, kept raw until checked.
	Geofence bson.Raw `bson:"geofence,omitempty" json:"-"`
}
