package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authrelay/authrelay/internal/models"
)

// AuditRepository defines the interface for audit log operations. Entries
// are written asynchronously outside protocol transactions.
type AuditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
	ListByAccount(ctx context.Context, account string, limit int) ([]*models.AuditLog, error)
}

type auditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new audit log repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepo{pool: pool}
}

var _ AuditRepository = (*auditRepo)(nil)

// Create inserts a new audit log entry.
func (r *auditRepo) Create(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_log (id, event, account, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	return r.pool.QueryRow(ctx, query,
		log.ID,
		log.Event,
		log.Account,
		log.Metadata,
	).Scan(&log.CreatedAt)
}

// GetByID retrieves an audit log by ID.
func (r *auditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `
		SELECT id, event, account, metadata, created_at
		FROM audit_log WHERE id = $1`

	var log models.AuditLog
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&log.ID,
		&log.Event,
		&log.Account,
		&log.Metadata,
		&log.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

// ListByAccount retrieves recent audit entries for an account.
func (r *auditRepo) ListByAccount(ctx context.Context, account string, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, event, account, metadata, created_at
		FROM audit_log
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var log models.AuditLog
		if err := rows.Scan(&log.ID, &log.Event, &log.Account, &log.Metadata, &log.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}
