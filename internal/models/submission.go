package models

import "time"

type GPSLocation struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

type Submission struct {
	ID          string `bson:"id" json:"id"`
	FormID      string `bson:"form_id" json:"form_id"`
	FormVersion int    `bson:"form_version" json:"form_version"`
	Data        Data   `bson:"data" json:"data"`
	DeviceID    string `bson:"device_id,omitempty" json:"device_id,omitempty"`
	DeviceInfo  Data   `bson:"device_info,omitempty" json:"device_info,omitempty"`
	OrgID       string `bson:"org_id" json:"org_id"`
	ProjectID   string `bson:"project_id" json:"project_id"`
	SubmittedBy string `bson:"submitted_by" json:"submitted_by"`

	SubmittedAt time.Time  `bson:"submitted_at" json:"submitted_at"`
	SyncedAt    *time.Time `bson:"synced_at,omitempty" json:"synced_at,omitempty"`

	Status           Status           `bson:"status" json:"status"`
	QualityScore     *float64         `bson:"quality_score" json:"quality_score"`
	QualityFlags     []string         `bson:"quality_flags" json:"quality_flags"`
	ProcessingStatus ProcessingStatus `bson:"processing_status" json:"processing_status"`
	ProcessedAt      *time.Time       `bson:"processed_at,omitempty" json:"processed_at,omitempty"`

	GPSLocation  *GPSLocation `bson:"gps_location,omitempty" json:"gps_location,omitempty"`
	GPSAccuracy  *float64     `bson:"gps_accuracy,omitempty" json:"gps_accuracy,omitempty"`
	GPSValidated *bool        `bson:"gps_validated,omitempty" json:"gps_validated,omitempty"`

	HasMedia       bool          `bson:"has_media" json:"has_media"`
	MediaValidated *bool         `bson:"media_validated,omitempty" json:"media_validated,omitempty"`
	MediaResults   []MediaResult `bson:"media_validation_results,omitempty" json:"media_validation_results,omitempty"`

	ReviewerID  string     `bson:"reviewer_id,omitempty" json:"reviewer_id,omitempty"`
	ReviewedAt  *time.Time `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	ReviewNotes string     `bson:"review_notes,omitempty" json:"review_notes,omitempty"`

	Archived   bool       `bson:"archived,omitempty" json:"archived,omitempty"`
	ArchivedAt *time.Time `bson:"archived_at,omitempty" json:"archived_at,omitempty"`
}

// SubmissionOut is the public projection returned by the API.
type SubmissionOut struct {
	ID               string           `json:"id"`
	FormID           string           `json:"form_id"`
	FormVersion      int              `json:"form_version"`
	Data             Data             `json:"data"`
	SubmittedBy      string           `json:"submitted_by"`
	SubmittedAt      time.Time        `json:"submitted_at"`
	Status           Status           `json:"status"`
	QualityScore     *float64         `json:"quality_score"`
	QualityFlags     []string         `json:"quality_flags"`
	GPSLocation      *GPSLocation     `json:"gps_location"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
}

func (s *Submission) Out() SubmissionOut {
	flags := s.QualityFlags
	if flags == nil {
		flags = []string{}
	}
	return SubmissionOut{
		ID:               s.ID,
		FormID:           s.FormID,
		FormVersion:      s.FormVersion,
		Data:             s.Data,
		SubmittedBy:      s.SubmittedBy,
		SubmittedAt:      s.SubmittedAt,
		Status:           s.Status,
		QualityScore:     s.QualityScore,
		QualityFlags:     flags,
		GPSLocation:      s.GPSLocation,
		ProcessingStatus: s.ProcessingStatus,
	}
}
