// Package models defines the claim ticket and the holder staging queue
// entry. The ticket is the authoritative record; queue entries are a
// per-holder convenience cache and may vanish without losing correctness.
package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const tokenBytes = 32

// NewToken returns a high-entropy, URL-safe claim token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate claim token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Ticket is a one-time claim token bound to a single credential.
type Ticket struct {
	Token        string     `json:"token"`
	CredentialID uuid.UUID  `json:"credential_id"`
	IssuerID     string     `json:"issuer_id"`
	ExpiresAt    time.Time  `json:"expires_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Expired reports whether the ticket is past its expiry. A ticket is
// redeemable strictly before ExpiresAt.
func (t *Ticket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	clone := *t
	if t.UsedAt != nil {
		at := *t.UsedAt
		clone.UsedAt = &at
	}
	return &clone
}

// QueueEntry is a staged token in a holder's offline redemption queue.
type QueueEntry struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
