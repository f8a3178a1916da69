// Package ledger defines the ports onto the external subsystems the service
// consumes: the fungible-asset ledger, the price oracle, the attribute
// registry, the action dispatcher, native authority, and the clock. The core
// depends only on these contracts, never on a transport.
package ledger

import (
	"context"
	"time"

	"github.com/authrelay/authrelay/internal/models"
)

// TokenLedger is the fungible-asset ledger. Any error aborts the enclosing
// protocol action.
type TokenLedger interface {
	Transfer(ctx context.Context, from, to string, quantity models.Asset, memo string) error
	Issue(ctx context.Context, to string, quantity models.Asset, memo string) error
	Retire(ctx context.Context, quantity models.Asset, memo string) error
	Balance(ctx context.Context, account string, symbol models.Symbol) (models.Asset, error)
	Supply(ctx context.Context, symbol models.Symbol) (models.Asset, error)
}

// PriceOracle supplies the most recent consensus price for a named pair.
// An unlisted pair fails with ErrPriceUnavailable.
type PriceOracle interface {
	Price(ctx context.Context, pair string) (float64, error)
}

// AttributeRegistry reads per-account attributes. A nil value with a nil
// error means absent; never-set, unset, and issuer-invalidated all collapse
// to absent.
type AttributeRegistry interface {
	Attribute(ctx context.Context, issuer, account, name string) ([]byte, error)
}

// Dispatcher hands a relayed action to the ledger for execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, action models.Action) error
}

// Authority checks native-ledger authority over an account. Fails with
// ErrUnauthorized when the caller cannot act as the account.
type Authority interface {
	RequireAuth(ctx context.Context, account string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
