package models

import "time"

type MediaStatus string

const (
	MediaValidated   MediaStatus = "validated"
	MediaInvalid     MediaStatus = "invalid"
	MediaUnreachable MediaStatus = "unreachable"
	MediaSkipped     MediaStatus = "skipped"
)

// MediaResult records the outcome of validating one media field.
type MediaResult struct {
	Field       string      `bson:"field" json:"field"`
	Type        MediaType   `bson:"type" json:"type"`
	Status      MediaStatus `bson:"status" json:"status"`
	MimeType    string      `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	SizeBytes   int64       `bson:"size_bytes,omitempty" json:"size_bytes,omitempty"`
	Width       int         `bson:"width,omitempty" json:"width,omitempty"`
	Height      int         `bson:"height,omitempty" json:"height,omitempty"`
	ThumbnailID string      `bson:"thumbnail_id,omitempty" json:"thumbnail_id,omitempty"`
	Error       string      `bson:"error,omitempty" json:"error,omitempty"`
	CheckedAt   time.Time   `bson:"checked_at" json:"checked_at"`
}
