package entity

import "time"

// Attachment is one binary part located in a message's MIME tree.
type Attachment struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Candidate is the ephemeral, in-memory projection of one source message.
// It lives for exactly one message's processing pass and is never persisted.
type Candidate struct {
	MessageID   string
	Subject     string
	Sender      string
	ReceivedAt  time.Time
	BodyText    string // markup-stripped body content, empty when none found
	Attachments []Attachment
}

// HasQualifyingAttachment reports whether at least one document attachment
// survived the exclusion rules.
func (c *Candidate) HasQualifyingAttachment() bool {
	return len(c.Attachments) > 0
}
