// Package services holds the participant lifecycle and query services; the
// layer that owns the role/status state machine and its coupled audit trail.
//
// Every mutating operation produces exactly one correlated audit entry, on
// the success path and on the rejected path alike. Audit logging is
// mandatory: if the append fails after the primary mutation already
// persisted, the operation reports a StorageError rather than pretending the
// trail is complete. There is no rollback; the mutation stands and the
// failure is surfaced loudly.
//
// Uniqueness on create is delegated to the store's unique index on email.
// The service performs no read-before-write; the index rejecting the insert
// is the authoritative conflict signal, so concurrent creators for the same
// email cannot both succeed.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloodlink/bloodlink/internal/audit"
	"github.com/bloodlink/bloodlink/internal/db/models"
	"github.com/bloodlink/bloodlink/internal/db/repositories"
	"github.com/bloodlink/bloodlink/internal/safego"
	"github.com/bloodlink/bloodlink/internal/telemetry"
)

// LifecycleService enforces creation uniqueness and applies role/status
// transitions against the identity store, recording every attempt in the
// audit log. Construct it once at startup and inject it into the HTTP layer;
// there is no package-level state.
type LifecycleService struct {
	users   *repositories.UserRepository
	auditor *repositories.AuditRepository
	shipper audit.Shipper // optional external destination, best-effort
}

// NewLifecycleService creates a LifecycleService. shipper may be nil when no
// external audit destination is configured.
func NewLifecycleService(users *repositories.UserRepository, auditor *repositories.AuditRepository, shipper audit.Shipper) *LifecycleService {
	return &LifecycleService{users: users, auditor: auditor, shipper: shipper}
}

// NewUser carries the caller-supplied profile fields for CreateUser. Role
// and status are never caller-supplied: every record starts at
// (donor, active).
type NewUser struct {
	Email       string
	DisplayName string
}

// CreateUser registers a new participant.
//
// The insert relies on the store's unique email index; a duplicate surfaces
// as a ConflictError and still appends a create_failed audit entry; the
// rejected path is logged with the same rigour as the successful one.
func (s *LifecycleService) CreateUser(ctx context.Context, req NewUser, actor string) (*models.User, error) {
	if req.Email == "" {
		return nil, &ValidationError{Field: "email", Reason: "must not be empty"}
	}

	user := &models.User{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        models.RoleDonor,
		Status:      models.StatusActive,
	}

	err := s.users.Create(ctx, user)
	if errors.Is(err, repositories.ErrDuplicateEmail) {
		if aerr := s.append(ctx, &models.AuditLog{
			ActionType:   models.ActionUserCreateFailed,
			SubjectEmail: req.Email,
			Description:  "User already exists",
			PerformedBy:  actor,
		}); aerr != nil {
			return nil, aerr
		}
		return nil, &ConflictError{Email: req.Email}
	}
	if err != nil {
		return nil, &StorageError{Op: "user insert", Err: err}
	}

	if aerr := s.append(ctx, &models.AuditLog{
		ActionType:   models.ActionUserCreate,
		SubjectEmail: user.Email,
		Description:  "New user created",
		PerformedBy:  actor,
	}); aerr != nil {
		return nil, aerr
	}

	return user, nil
}

// UpdateStatus transitions a participant's activation state.
//
// Validation failures are audited (status_update_failed) before the error is
// returned; one consistent policy applies to both update operations.
func (s *LifecycleService) UpdateStatus(ctx context.Context, userID string, status models.Status, actor string) (*models.User, error) {
	if !status.Valid() {
		if aerr := s.append(ctx, &models.AuditLog{
			ActionType:   models.ActionStatusUpdateFailed,
			SubjectEmail: models.SubjectUnknown,
			Description:  fmt.Sprintf("Invalid status attempted for user ID %s", userID),
			PerformedBy:  actor,
		}); aerr != nil {
			return nil, aerr
		}
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a recognised status", status)}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "user lookup", Err: err}
	}
	if user == nil {
		return nil, &NotFoundError{ID: userID}
	}

	affected, err := s.users.UpdateStatus(ctx, userID, status)
	if err != nil {
		return nil, &StorageError{Op: "status update", Err: err}
	}
	if affected == 0 {
		// Deleted between lookup and patch; treat like any absent id.
		return nil, &NotFoundError{ID: userID}
	}

	if aerr := s.append(ctx, &models.AuditLog{
		ActionType:   models.ActionStatusUpdate,
		SubjectEmail: user.Email,
		Description:  fmt.Sprintf("Status changed to %s", status),
		PerformedBy:  actor,
	}); aerr != nil {
		return nil, aerr
	}

	// Re-read so the caller sees the advanced updated_at, not the stale row.
	updated, err := s.users.GetByID(ctx, userID)
	if err != nil || updated == nil {
		user.Status = status
		return user, nil
	}
	return updated, nil
}

// UpdateRole transitions a participant's access classification.
func (s *LifecycleService) UpdateRole(ctx context.Context, userID string, role models.Role, actor string) (*models.User, error) {
	if !role.Valid() {
		if aerr := s.append(ctx, &models.AuditLog{
			ActionType:   models.ActionRoleUpdateFailed,
			SubjectEmail: models.SubjectUnknown,
			Description:  fmt.Sprintf("Invalid role attempted for user ID %s", userID),
			PerformedBy:  actor,
		}); aerr != nil {
			return nil, aerr
		}
		return nil, &ValidationError{Field: "role", Reason: fmt.Sprintf("%q is not a recognised role", role)}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "user lookup", Err: err}
	}
	if user == nil {
		return nil, &NotFoundError{ID: userID}
	}

	affected, err := s.users.UpdateRole(ctx, userID, role)
	if err != nil {
		return nil, &StorageError{Op: "role update", Err: err}
	}
	if affected == 0 {
		return nil, &NotFoundError{ID: userID}
	}

	if aerr := s.append(ctx, &models.AuditLog{
		ActionType:   models.ActionRoleUpdate,
		SubjectEmail: user.Email,
		Description:  fmt.Sprintf("Role changed to %s", role),
		PerformedBy:  actor,
	}); aerr != nil {
		return nil, aerr
	}

	updated, err := s.users.GetByID(ctx, userID)
	if err != nil || updated == nil {
		user.Role = role
		return user, nil
	}
	return updated, nil
}

// append writes one audit entry and, when an external shipper is configured,
// forwards it asynchronously. The database append is mandatory; shipping is
// fire-and-forget.
func (s *LifecycleService) append(ctx context.Context, entry *models.AuditLog) error {
	if err := s.auditor.Append(ctx, entry); err != nil {
		return &StorageError{Op: "audit append", Err: err}
	}
	telemetry.AuditEntriesTotal.WithLabelValues(string(entry.ActionType)).Inc()
	ship(s.shipper, entry)
	return nil
}

// ship forwards an already-persisted entry to the external audit destination
// without blocking the request. Shipping failures are logged, never surfaced:
// the database is the system of record, external destinations are replicas.
func ship(shipper audit.Shipper, entry *models.AuditLog) {
	if shipper == nil {
		return
	}
	record := audit.Entry{
		Timestamp:    entry.CreatedAt,
		ActionType:   string(entry.ActionType),
		SubjectEmail: entry.SubjectEmail,
		Description:  entry.Description,
		PerformedBy:  entry.PerformedBy,
		Metadata:     entry.Metadata,
	}
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shipper.Ship(ctx, &record); err != nil {
			slog.Warn("failed to ship audit entry", "action", record.ActionType, "error", err)
		}
	})
}
