// Package mailbox wraps an external mailbox provider behind the two
// operations the job pipeline needs: listing candidate message ids over a
// time window and fetching one full message.
package mailbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgermail/extractor/internal/mailparse"
)

// Window is the inclusive date range of one extraction run.
type Window struct {
	Start time.Time
	End   time.Time
}

// RawMessage is one fetched message: headers of interest plus the decoded
// MIME tree.
type RawMessage struct {
	ID         string
	Subject    string
	Sender     string
	ReceivedAt time.Time
	Root       *mailparse.Part
}

// Source is the provider adapter interface. The listing query is a
// provider-specific pre-filter for efficiency only; the classifier
// re-validates every result.
type Source interface {
	ListCandidateIDs(ctx context.Context, accountID uuid.UUID, w Window) ([]string, error)
	FetchMessage(ctx context.Context, accountID uuid.UUID, messageID string) (*RawMessage, error)
}
