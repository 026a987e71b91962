// audit_repository.go implements AuditRepository, the append-only store for
// administrative action entries. Appends never update or delete; the log only grows.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bloodlink/bloodlink/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	ActionType   *models.ActionType
	SubjectEmail *string
	PerformedBy  *string
	StartDate    *time.Time
	EndDate      *time.Time
}

// Append durably persists one immutable entry, assigning its ID and
// timestamp. A failure here must propagate to the caller; the service layer
// treats an unlogged mutation as a failed operation, so this method never
// swallows errors.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()
	if entry.PerformedBy == "" {
		entry.PerformedBy = models.ActorSystem
	}

	var metadataJSON []byte
	var err error
	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (id, action_type, subject_email, description, performed_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ActionType,
		entry.SubjectEmail,
		entry.Description,
		entry.PerformedBy,
		metadataJSON,
		entry.CreatedAt,
	)

	return err
}

// List retrieves audit logs with optional filters and pagination, newest
// first. This is the read surface for operational tooling; the core services
// only ever append.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `
		SELECT id, action_type, subject_email, description, performed_by, metadata, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := make([]any, 0)
	paramIndex := 1

	addFilter := func(clause string, value any) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.ActionType != nil {
		addFilter(` AND action_type = $%d`, *filters.ActionType)
	}
	if filters.SubjectEmail != nil {
		addFilter(` AND subject_email = $%d`, *filters.SubjectEmail)
	}
	if filters.PerformedBy != nil {
		addFilter(` AND performed_by = $%d`, *filters.PerformedBy)
	}
	if filters.StartDate != nil {
		addFilter(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, entry)
	}

	return logs, total, rows.Err()
}

// Get retrieves a single audit log entry by ID. Returns (nil, nil) when no
// entry exists.
func (r *AuditRepository) Get(ctx context.Context, entryID string) (*models.AuditLog, error) {
	query := `
		SELECT id, action_type, subject_email, description, performed_by, metadata, created_at
		FROM audit_logs
		WHERE id = $1
	`

	rows, err := r.db.QueryxContext(ctx, query, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return scanAuditRow(rows)
}

// Count returns the total number of audit entries. Used by the health and
// stats surfaces; the log is monotonically growing so this only increases.
func (r *AuditRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`)
	return total, err
}

func scanAuditRow(rows *sqlx.Rows) (*models.AuditLog, error) {
	entry := &models.AuditLog{}
	var metadataJSON []byte

	err := rows.Scan(
		&entry.ID,
		&entry.ActionType,
		&entry.SubjectEmail,
		&entry.Description,
		&entry.PerformedBy,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, err
		}
	}

	return entry, nil
}
