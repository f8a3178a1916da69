package repository

import (
	"context"
	"time"

	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// RelayStore defines replay-protection log operations.
type RelayStore interface {
	// RecordIfAbsent inserts a record for fingerprint, failing with
	// ErrAlreadyExecuted while a live record exists. Check-then-insert is
	// atomic only relative to the enclosing serializable transaction.
	RecordIfAbsent(ctx context.Context, record *models.RelayedAction) error
	// SweepExpired deletes records oldest-first, stopping at the first record
	// whose action_time + expiry has not yet elapsed or after limit deletions.
	SweepExpired(ctx context.Context, now time.Time, expiry time.Duration, limit int) (int, error)
}

type relayStore struct {
	db DBTX
}

// NewRelayStore creates a relay store over the given query surface.
func NewRelayStore(db DBTX) RelayStore {
	return &relayStore{db: db}
}

var _ RelayStore = (*relayStore)(nil)

func (s *relayStore) RecordIfAbsent(ctx context.Context, record *models.RelayedAction) error {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM relayed_actions WHERE fingerprint = $1)`,
		record.Fingerprint,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return apierrors.ErrAlreadyExecuted
	}

	query := `
		INSERT INTO relayed_actions (fingerprint, account, action_time)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return s.db.QueryRow(ctx, query,
		record.Fingerprint,
		record.Account,
		record.ActionTime,
	).Scan(&record.ID, &record.CreatedAt)
}

func (s *relayStore) SweepExpired(ctx context.Context, now time.Time, expiry time.Duration, limit int) (int, error) {
	query := `
		SELECT id, action_time
		FROM relayed_actions
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
		var actionTime time.Time
		if err := rows.Scan(&id, &actionTime); err != nil {
			return 0, err
		}
		if now.Before(actionTime.Add(expiry)) {
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

	tag, err := s.db.Exec(ctx, `DELETE FROM relayed_actions WHERE id = ANY($1)`, expired)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
