package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores bundles the registry stores scoped to one transaction.
type Stores struct {
	Keys   KeyStore
	Relays RelayStore
}

// UnitOfWork runs a function against transaction-scoped stores. Every
// protocol action executes inside exactly one serializable transaction, so
// its registry and replay-log writes commit or abort together.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(s Stores) error) error
}

type pgxUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork creates a pgx-backed unit of work.
func NewUnitOfWork(pool *pgxpool.Pool) UnitOfWork {
	return &pgxUnitOfWork{pool: pool}
}

var _ UnitOfWork = (*pgxUnitOfWork)(nil)

func (u *pgxUnitOfWork) Do(ctx context.Context, fn func(s Stores) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stores := Stores{
		Keys:   NewKeyStore(tx),
		Relays: NewRelayStore(tx),
	}

	if err := fn(stores); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
