package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// KeyStore defines application-key registry operations. Revocation is a
// one-way stamp; physical removal happens only through SweepExpired.
type KeyStore interface {
	Create(ctx context.Context, key *models.ApplicationKey) error
	GetByID(ctx context.Context, id int64) (*models.ApplicationKey, error)
	// FindActive returns the oldest active record for (owner, publicKey) at
	// now, or (nil, nil) when none matches.
	FindActive(ctx context.Context, owner string, publicKey []byte, now time.Time) (*models.ApplicationKey, error)
	// FindLatestByKey returns the newest unrevoked record for publicKey
	// regardless of owner or validity window, or (nil, nil). Callers check
	// ownership themselves.
	FindLatestByKey(ctx context.Context, publicKey []byte) (*models.ApplicationKey, error)
	HasKeys(ctx context.Context, owner string) (bool, error)
	Revoke(ctx context.Context, id int64, at time.Time) error
	// SweepExpired deletes records oldest-first, stopping at the first record
	// whose grace period has not yet elapsed or after limit deletions.
	SweepExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) (int, error)
}

type keyStore struct {
	db DBTX
}

// NewKeyStore creates a key store over the given query surface.
func NewKeyStore(db DBTX) KeyStore {
	return &keyStore{db: db}
}

var _ KeyStore = (*keyStore)(nil)

func (s *keyStore) Create(ctx context.Context, key *models.ApplicationKey) error {
	query := `
		INSERT INTO app_keys (owner, public_key, algorithm, not_valid_before, not_valid_after, payer, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return s.db.QueryRow(ctx, query,
		key.Owner,
		key.PublicKey,
		key.Algorithm,
		key.NotValidBefore,
		key.NotValidAfter,
		key.Payer,
		key.RevokedAt,
	).Scan(&key.ID, &key.CreatedAt)
}

const keyColumns = `id, owner, public_key, algorithm, not_valid_before, not_valid_after, payer, revoked_at, created_at`

func scanKey(row pgx.Row) (*models.ApplicationKey, error) {
	var key models.ApplicationKey
	err := row.Scan(
		&key.ID,
		&key.Owner,
		&key.PublicKey,
		&key.Algorithm,
		&key.NotValidBefore,
		&key.NotValidAfter,
		&key.Payer,
		&key.RevokedAt,
		&key.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

func (s *keyStore) GetByID(ctx context.Context, id int64) (*models.ApplicationKey, error) {
	query := `SELECT ` + keyColumns + ` FROM app_keys WHERE id = $1`
	return scanKey(s.db.QueryRow(ctx, query, id))
}

func (s *keyStore) FindActive(ctx context.Context, owner string, publicKey []byte, now time.Time) (*models.ApplicationKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM app_keys
		WHERE owner = $1 AND public_key = $2
		  AND revoked_at IS NULL
		  AND not_valid_before <= $3 AND $3 < not_valid_after
		ORDER BY id
		LIMIT 1`
	return scanKey(s.db.QueryRow(ctx, query, owner, publicKey, now))
}

func (s *keyStore) FindLatestByKey(ctx context.Context, publicKey []byte) (*models.ApplicationKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM app_keys
		WHERE public_key = $1 AND revoked_at IS NULL
		ORDER BY id DESC
		LIMIT 1`
	return scanKey(s.db.QueryRow(ctx, query, publicKey))
}

func (s *keyStore) HasKeys(ctx context.Context, owner string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM app_keys WHERE owner = $1)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, owner).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *keyStore) Revoke(ctx context.Context, id int64, at time.Time) error {
	// Guarded update keeps the transition one-way.
	query := `UPDATE app_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`

	tag, err := s.db.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apierrors.ErrAlreadyRevoked
	}
	return nil
}

func (s *keyStore) SweepExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) (int, error) {
	// Walk the oldest records and stop at the first one still inside its
	// grace period. The scan is bounded by limit, so a young record early in
	// the table caps the whole sweep, matching the primary-key-order contract.
	query := `
		SELECT id, not_valid_after
		FROM app_keys
		ORDER BY id
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var expired []int64
	for rows.Next() {
		var id int64
		var notValidAfter time.Time
		if err := rows.Scan(&id, &notValidAfter); err != nil {
			return 0, err
		}
		if now.Before(notValidAfter.Add(grace)) {
			break
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	if len(expired) == 0 {
		return 0, nil
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM app_keys WHERE id = ANY($1)`, expired)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
