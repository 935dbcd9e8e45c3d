package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/constants"
)

// Progress is the counter snapshot reported while a job runs.
type Progress struct {
	MessagesAnalyzed   int32 `json:"messages_analyzed"`
	CandidatesDetected int32 `json:"candidates_detected"`
	RecordsPersisted   int32 `json:"records_persisted"`
	MessagesRejected   int32 `json:"messages_rejected"`
}

// Job represents one extraction run for data transfer between layers.
type Job struct {
	ID              uuid.UUID           `json:"id"`
	UserID          uuid.UUID           `json:"user_id"`
	SourceAccountID uuid.UUID           `json:"source_account_id"`
	StartDate       time.Time           `json:"start_date"`
	EndDate         time.Time           `json:"end_date"`
	Status          constants.JobStatus `json:"status"`
	Progress        Progress            `json:"progress"`
	ErrorMessage    *string             `json:"error_message,omitempty"`
	LeaseOwner      *string             `json:"lease_owner,omitempty"`
	LeaseAcquiredAt *time.Time          `json:"lease_acquired_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	return j.Status == constants.JobStatusCompleted || j.Status == constants.JobStatusFailed
}
