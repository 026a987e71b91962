// Package repositories implements the data access layer (repository pattern) for the
// participant backend. Each repository type encapsulates all database queries for a
// domain entity. Services never issue SQL directly; all database access goes through
// this layer, which keeps query logic testable in isolation.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bloodlink/bloodlink/internal/db/models"
)

// ErrDuplicateEmail is returned by Create when the users_email_key unique
// index rejects the insert. The index is the authoritative uniqueness check:
// there is no read-before-write, so concurrent creators for the same email
// cannot both succeed.
var ErrDuplicateEmail = errors.New("email already registered")

// uniqueViolation is the PostgreSQL error code for a unique constraint breach.
const uniqueViolation = "23505"

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindFilter narrows a Find query. Email is an exact (case-insensitive)
// match; Search is a case-insensitive substring match across display name,
// email, and role. Both may be combined.
type FindFilter struct {
	Email  string
	Search string
}

// Create inserts a new user, assigning its ID and both timestamps. A user
// created here always starts at (donor, active) unless the caller set the
// fields explicitly. Returns ErrDuplicateEmail when the email is taken.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = models.RoleDonor
	}
	if user.Status == "" {
		user.Status = models.StatusActive
	}

	query := `
		INSERT INTO users (id, email, display_name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.Role,
		user.Status,
		user.CreatedAt,
		user.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}

	return err
}

// GetByID retrieves a user by ID. Returns (nil, nil) when no record exists.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT id, email, display_name, role, status, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, userID))
}

// GetByEmail retrieves a user by email, case-insensitively to match the
// unique index on lower(email). Returns (nil, nil) when no record exists.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, display_name, role, status, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

// UpdateStatus merge-patches a user's status, advancing updated_at. Returns
// the number of rows affected so callers can distinguish an absent id (0)
// from a successful patch (1).
func (r *UserRepository) UpdateStatus(ctx context.Context, userID string, status models.Status) (int64, error) {
	query := `
		UPDATE users
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, userID, status, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateRole merge-patches a user's role, advancing updated_at. Returns the
// number of rows affected.
func (r *UserRepository) UpdateRole(ctx context.Context, userID string, role models.Role) (int64, error) {
	query := `
		UPDATE users
		SET role = $2, updated_at = $3
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, userID, role, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Find retrieves users matching the filter, newest first. An empty filter
// returns all users.
func (r *UserRepository) Find(ctx context.Context, filter FindFilter) ([]*models.User, error) {
	query := `
		SELECT id, email, display_name, role, status, created_at, updated_at
		FROM users
		WHERE 1=1
	`

	args := make([]any, 0, 2)
	if filter.Email != "" {
		args = append(args, filter.Email)
		query += ` AND lower(email) = lower($1)`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		query += fmt.Sprintf(` AND (display_name ILIKE $%d OR email ILIKE $%d OR role ILIKE $%d)`, n, n, n)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user := &models.User{}
		err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.DisplayName,
			&user.Role,
			&user.Status,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// Count returns the total number of users
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM users`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}
