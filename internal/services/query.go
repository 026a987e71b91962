// query.go implements the read side: filtered user listing and role lookup.
// Reads are audited too; a fetch entry records what was queried and by whom.
package services

import (
	"context"
	"fmt"

	"github.com/bloodlink/bloodlink/internal/audit"
	"github.com/bloodlink/bloodlink/internal/db/models"
	"github.com/bloodlink/bloodlink/internal/db/repositories"
	"github.com/bloodlink/bloodlink/internal/telemetry"
)

// QueryService answers read requests against the identity store.
type QueryService struct {
	users   *repositories.UserRepository
	auditor *repositories.AuditRepository
	shipper audit.Shipper
}

// NewQueryService creates a QueryService. shipper may be nil.
func NewQueryService(users *repositories.UserRepository, auditor *repositories.AuditRepository, shipper audit.Shipper) *QueryService {
	return &QueryService{users: users, auditor: auditor, shipper: shipper}
}

// ListFilter narrows ListUsers. Email is an exact match; Search is a
// case-insensitive substring match across display name, email, and role.
type ListFilter struct {
	Email  string
	Search string
}

// ListUsers returns users matching the filter and appends a fetch entry
// describing the query performed. The subject is the exact email when one
// was given, otherwise the collection sentinel.
func (s *QueryService) ListUsers(ctx context.Context, filter ListFilter, actor string) ([]*models.User, error) {
	users, err := s.users.Find(ctx, repositories.FindFilter{
		Email:  filter.Email,
		Search: filter.Search,
	})
	if err != nil {
		return nil, &StorageError{Op: "user find", Err: err}
	}

	subject := models.SubjectAll
	description := "Fetched all users"
	if filter.Email != "" {
		subject = filter.Email
		description = "Fetched users by email"
	}
	if filter.Search != "" {
		description = fmt.Sprintf("Fetched users matching %q", filter.Search)
	}

	if err := s.append(ctx, &models.AuditLog{
		ActionType:   models.ActionFetch,
		SubjectEmail: subject,
		Description:  description,
		PerformedBy:  actor,
	}); err != nil {
		return nil, err
	}

	return users, nil
}

// GetRole returns the role of the user with the given email, degrading to
// the default donor role when no record exists. This is the only operation
// with a defined fallback instead of a not-found failure: frontends call it
// for every signed-in identity, including ones that have not registered yet.
func (s *QueryService) GetRole(ctx context.Context, email, actor string) (models.Role, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", &StorageError{Op: "user lookup", Err: err}
	}

	role := models.RoleDonor
	description := "Fetched default role"
	if user != nil {
		role = user.Role
		description = "Fetched user role"
	}

	if err := s.append(ctx, &models.AuditLog{
		ActionType:   models.ActionFetchRole,
		SubjectEmail: email,
		Description:  description,
		PerformedBy:  actor,
	}); err != nil {
		return "", err
	}

	return role, nil
}

func (s *QueryService) append(ctx context.Context, entry *models.AuditLog) error {
	if err := s.auditor.Append(ctx, entry); err != nil {
		return &StorageError{Op: "audit append", Err: err}
	}
	telemetry.AuditEntriesTotal.WithLabelValues(string(entry.ActionType)).Inc()
	ship(s.shipper, entry)
	return nil
}
