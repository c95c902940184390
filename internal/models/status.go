package models

import "fmt"

// Status is the review state of a submission.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusFlagged   Status = "flagged"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusPending, StatusApproved, StatusRejected, StatusFlagged:
		return true
	}
	return false
}

// Reviewable reports whether s can be set by a review.
func (s Status) Reviewable() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusFlagged
}

// Transition validates a review moving a submission from one status to
// another. Reviewers may flip between outcomes freely, including re-approving
// a rejected submission; nothing moves back to submitted.
func Transition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("unknown current status %q", from)
	}
	if !to.Reviewable() {
		return fmt.Errorf("invalid review status %q: must be one of approved, rejected, flagged", to)
	}
	return nil
}

type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingCompleted ProcessingStatus = "completed"
)
