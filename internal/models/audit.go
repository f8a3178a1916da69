package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent represents the type of audit event.
type AuditEvent string

const (
	// Key events
	AuditEventKeyRegistered AuditEvent = "key.registered"
	AuditEventKeyReplaced   AuditEvent = "key.replaced"
	AuditEventKeyRevoked    AuditEvent = "key.revoked"
	AuditEventKeySwept      AuditEvent = "key.swept"

	// Protocol events
	AuditEventActionRelayed  AuditEvent = "action.relayed"
	AuditEventTransferSigned AuditEvent = "transfer.signed"
	AuditEventCreditPurchase AuditEvent = "credit.purchased"
	AuditEventCleanupRun     AuditEvent = "cleanup.run"
)

// AuditLog represents an audit log entry. Entries are written asynchronously
// and never participate in protocol decisions.
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Event     AuditEvent      `json:"event" db:"event"`
	Account   string          `json:"account" db:"account"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
