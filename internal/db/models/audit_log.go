// Package models - audit_log.go defines the AuditLog model for the append-only
// administrative action trail, capturing action type, subject identity, actor, and detail.
package models

import "time"

// ActionType tags one audited operation.
type ActionType string

const (
	ActionUserCreate         ActionType = "create"
	ActionUserCreateFailed   ActionType = "create_failed"
	ActionStatusUpdate       ActionType = "status_update"
	ActionStatusUpdateFailed ActionType = "status_update_failed"
	ActionRoleUpdate         ActionType = "role_update"
	ActionRoleUpdateFailed   ActionType = "role_update_failed"
	ActionFetch              ActionType = "fetch"
	ActionFetchRole          ActionType = "fetch_role"
)

// Sentinel values used when an audit entry cannot be correlated precisely.
const (
	// SubjectAll marks entries that concern the whole collection (list queries).
	SubjectAll = "all"
	// SubjectUnknown marks entries whose subject never resolved to a record.
	SubjectUnknown = "unknown"
	// ActorSystem is recorded when no authenticated actor is available.
	ActorSystem = "system"
)

// AuditLog is one immutable entry in the administrative action trail. Entries
// reference their subject by email only, a weak reference that intentionally
// carries no foreign-key constraint, because failed attempts (e.g. a rejected
// creation) must still be recordable against identities that have no record.
type AuditLog struct {
	ID           string         `json:"id" db:"id"`
	ActionType   ActionType     `json:"actionType" db:"action_type"`
	SubjectEmail string         `json:"subjectEmail" db:"subject_email"`
	Description  string         `json:"description" db:"description"`
	PerformedBy  string         `json:"performedBy" db:"performed_by"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"-"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
}
