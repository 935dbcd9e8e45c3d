package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/constants"
)

// SourceAccount is a connected mailbox for data transfer between layers.
type SourceAccount struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Provider     string    `json:"provider"`
	EmailAddress string    `json:"email_address"`
	Status       string    `json:"status"` // ACTIVE or INACTIVE
	CreatedAt    time.Time `json:"created_at"`
}

// IsActive reports whether the account may be used for extraction runs.
func (a *SourceAccount) IsActive() bool {
	return a.Status == "ACTIVE"
}

// User carries the plan needed for quota enforcement.
type User struct {
	ID    uuid.UUID      `json:"id"`
	Email string         `json:"email"`
	Plan  constants.Plan `json:"plan"`
}
