package models

import "time"

type JobKind string

const (
	JobProcessSubmission JobKind = "process_submission"
	JobProcessBulk       JobKind = "process_bulk_submissions"
	JobValidateMedia     JobKind = "validate_submission_media"
	JobTriggerWebhooks   JobKind = "trigger_submission_webhooks"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobProcessSubmission, JobProcessBulk, JobValidateMedia, JobTriggerWebhooks:
		return true
	}
	return false
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// JobPayload carries exactly the identifiers a job needs.
type JobPayload struct {
	SubmissionID  string   `bson:"submission_id,omitempty" json:"submission_id,omitempty"`
	SubmissionIDs []string `bson:"submission_ids,omitempty" json:"submission_ids,omitempty"`
}

type Job struct {
	ID          string     `bson:"id" json:"id"`
	Kind        JobKind    `bson:"kind" json:"kind"`
	Payload     JobPayload `bson:"payload" json:"payload"`
	Status      JobStatus  `bson:"status" json:"status"`
	Attempts    int        `bson:"attempts" json:"attempts"`
	MaxAttempts int        `bson:"max_attempts" json:"max_attempts"`
	RunAt       time.Time  `bson:"run_at" json:"run_at"`
	LockedUntil *time.Time `bson:"locked_until,omitempty" json:"locked_until,omitempty"`
	LockedBy    string     `bson:"locked_by,omitempty" json:"locked_by,omitempty"`
	LastError   string     `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}
