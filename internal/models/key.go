// Package models defines the domain types stored and exchanged by the service.
package models

import (
	"time"
)

// KeyState classifies an application key record at a point in time.
type KeyState string

const (
	KeyStateActive  KeyState = "active"
	KeyStateRevoked KeyState = "revoked"
	KeyStateExpired KeyState = "expired"
)

// String returns the string representation
func (s KeyState) String() string {
	return string(s)
}

// ApplicationKey is one registered (owner, public key) record. Registration
// appends records; revocation stamps RevokedAt and never deletes. The same
// public key may appear in multiple records over time as long as at most one
// of them is active.
type ApplicationKey struct {
	ID             int64      `json:"id" db:"id"`
	Owner          string     `json:"owner" db:"owner"`
	PublicKey      []byte     `json:"public_key" db:"public_key"`
	Algorithm      string     `json:"algorithm" db:"algorithm"`
	NotValidBefore time.Time  `json:"not_valid_before" db:"not_valid_before"`
	NotValidAfter  time.Time  `json:"not_valid_after" db:"not_valid_after"`
	Payer          string     `json:"payer" db:"payer"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// State classifies the record relative to now.
func (k *ApplicationKey) State(now time.Time) KeyState {
	if k.RevokedAt != nil {
		return KeyStateRevoked
	}
	if !now.Before(k.NotValidAfter) {
		return KeyStateExpired
	}
	return KeyStateActive
}

// ActiveAt reports whether the record authorizes signatures at now:
// not revoked and inside [NotValidBefore, NotValidAfter).
func (k *ApplicationKey) ActiveAt(now time.Time) bool {
	return k.RevokedAt == nil && !now.Before(k.NotValidBefore) && now.Before(k.NotValidAfter)
}
