package models

import (
	"encoding/binary"
	"time"
)

// PermissionLevel names an (actor, permission) pair authorizing an action.
type PermissionLevel struct {
	Actor      string `json:"actor" validate:"required"`
	Permission string `json:"permission" validate:"required"`
}

// Action is a relayed ledger action: a call against a contract account, with
// the authorizations it claims and its serialized arguments.
type Action struct {
	Contract      string            `json:"contract" validate:"required"`
	Name          string            `json:"name" validate:"required"`
	Authorization []PermissionLevel `json:"authorization"`
	Data          []byte            `json:"data"`
}

// Pack serializes the action deterministically: uvarint-length-prefixed
// strings, a uvarint element count before the authorization list, and a
// uvarint byte count before the data. Identical actions always pack to
// identical bytes, so the packed form can participate in signing digests
// and replay fingerprints.
func (a Action) Pack() []byte {
	buf := make([]byte, 0, 64)
	buf = appendString(buf, a.Contract)
	buf = appendString(buf, a.Name)
	buf = binary.AppendUvarint(buf, uint64(len(a.Authorization)))
	for _, p := range a.Authorization {
		buf = appendString(buf, p.Actor)
		buf = appendString(buf, p.Permission)
	}
	buf = binary.AppendUvarint(buf, uint64(len(a.Data)))
	buf = append(buf, a.Data...)
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// RelayedAction is the replay-protection record for one executed relay. The
// fingerprint is the signing digest of the relayed action; a second relay
// with the same fingerprint is refused until the record is swept.
type RelayedAction struct {
	ID          int64     `json:"id" db:"id"`
	Fingerprint []byte    `json:"fingerprint" db:"fingerprint"`
	Account     string    `json:"account" db:"account"`
	ActionTime  time.Time `json:"action_time" db:"action_time"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
