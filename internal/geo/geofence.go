// Package geo checks submission locations against project geofences.
package geo

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"go.mongodb.org/mongo-driver/bson"
)

var ErrUnsupportedGeometry = errors.New("geofence must be a Polygon or MultiPolygon")

// Fence is a project boundary in lng/lat order.
type Fence struct {
	geom orb.Geometry
}

func ParseGeoJSON(data []byte) (*Fence, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("parse geofence: %w", err)
	}
	switch g.Geometry().(type) {
	case orb.Polygon, orb.MultiPolygon:
		return &Fence{geom: g.Geometry()}, nil
	}
	return nil, fmt.Errorf("%w, got %s", ErrUnsupportedGeometry, g.Geometry().GeoJSONType())
}

// FromBSON parses a GeoJSON geometry stored as a sub-document.
func FromBSON(raw bson.Raw) (*Fence, error) {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("geofence to json: %w", err)
	}
	return ParseGeoJSON(data)
}

// Contains reports whether the point lies inside or on the fence.
func (f *Fence) Contains(lat, lng float64) bool {
	pt := orb.Point{lng, lat}
	switch g := f.geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}
