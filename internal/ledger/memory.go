package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// MemoryLedger is an in-process TokenLedger backing tests and the sandbox
// server mode. Balances and supplies are tracked per symbol code.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]map[string]int64 // account -> symbol code -> amount
	supplies map[string]int64            // symbol code -> outstanding supply
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]map[string]int64),
		supplies: make(map[string]int64),
	}
}

// Seed credits an account without touching supply. Test and sandbox setup
// only.
func (l *MemoryLedger) Seed(account string, quantity models.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, quantity)
}

func (l *MemoryLedger) credit(account string, quantity models.Asset) {
	if l.balances[account] == nil {
		l.balances[account] = make(map[string]int64)
	}
	l.balances[account][quantity.Symbol.Code] += quantity.Amount
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to string, quantity models.Asset, memo string) error {
	if !quantity.IsPositive() {
		return apierrors.ErrInvalidAsset
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from][quantity.Symbol.Code] < quantity.Amount {
		return apierrors.ErrOverdrawnBalance.WithMessage(fmt.Sprintf("%s cannot cover %s", from, quantity))
	}
	l.balances[from][quantity.Symbol.Code] -= quantity.Amount
	l.credit(to, quantity)
	return nil
}

func (l *MemoryLedger) Issue(ctx context.Context, to string, quantity models.Asset, memo string) error {
	if !quantity.IsPositive() {
		return apierrors.ErrInvalidAsset
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.supplies[quantity.Symbol.Code] += quantity.Amount
	l.credit(to, quantity)
	return nil
}

func (l *MemoryLedger) Retire(ctx context.Context, quantity models.Asset, memo string) error {
	if !quantity.IsPositive() {
		return apierrors.ErrInvalidAsset
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.supplies[quantity.Symbol.Code] < quantity.Amount {
		return apierrors.ErrOverdrawnBalance.WithMessage("retire exceeds outstanding supply")
	}
	l.supplies[quantity.Symbol.Code] -= quantity.Amount
	return nil
}

func (l *MemoryLedger) Balance(ctx context.Context, account string, symbol models.Symbol) (models.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.Asset{Amount: l.balances[account][symbol.Code], Symbol: symbol}, nil
}

func (l *MemoryLedger) Supply(ctx context.Context, symbol models.Symbol) (models.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.Asset{Amount: l.supplies[symbol.Code], Symbol: symbol}, nil
}

// StaticOracle serves fixed prices per pair.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticOracle creates an oracle preloaded with the given pair prices.
func NewStaticOracle(prices map[string]float64) *StaticOracle {
	cp := make(map[string]float64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticOracle{prices: cp}
}

// SetPrice updates one pair.
func (o *StaticOracle) SetPrice(pair string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[pair] = price
}

func (o *StaticOracle) Price(ctx context.Context, pair string) (float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.prices[pair]
	if !ok {
		return 0, apierrors.ErrPriceUnavailable
	}
	return price, nil
}

// MemoryAttributes is an in-process AttributeRegistry.
type MemoryAttributes struct {
	mu    sync.RWMutex
	attrs map[string][]byte // issuer/account/name -> value
}

// NewMemoryAttributes creates an empty attribute registry.
func NewMemoryAttributes() *MemoryAttributes {
	return &MemoryAttributes{attrs: make(map[string][]byte)}
}

func attrKey(issuer, account, name string) string {
	return issuer + "/" + account + "/" + name
}

// Set writes an attribute value.
func (a *MemoryAttributes) Set(issuer, account, name string, value []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attrs[attrKey(issuer, account, name)] = value
}

// Unset removes an attribute; subsequent reads see it as absent.
func (a *MemoryAttributes) Unset(issuer, account, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attrs, attrKey(issuer, account, name))
}

func (a *MemoryAttributes) Attribute(ctx context.Context, issuer, account, name string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	value, ok := a.attrs[attrKey(issuer, account, name)]
	if !ok {
		return nil, nil
	}
	return value, nil
}

// RecordingDispatcher collects dispatched actions instead of executing them.
type RecordingDispatcher struct {
	mu      sync.Mutex
	actions []models.Action
}

// NewRecordingDispatcher creates an empty recording dispatcher.
func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

func (d *RecordingDispatcher) Dispatch(ctx context.Context, action models.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, action)
	return nil
}

// Dispatched returns a copy of the actions dispatched so far.
func (d *RecordingDispatcher) Dispatched() []models.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Action(nil), d.actions...)
}

type authedAccountsKey struct{}

// WithAuthorizedAccounts marks accounts the request holds native authority
// for. Set by the HTTP auth middleware after token resolution.
func WithAuthorizedAccounts(ctx context.Context, accounts ...string) context.Context {
	set := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	return context.WithValue(ctx, authedAccountsKey{}, set)
}

// ContextAuthority grants authority over the accounts carried in the request
// context.
type ContextAuthority struct{}

func (ContextAuthority) RequireAuth(ctx context.Context, account string) error {
	set, ok := ctx.Value(authedAccountsKey{}).(map[string]struct{})
	if !ok {
		return apierrors.ErrUnauthorized
	}
	if _, ok := set[account]; !ok {
		return apierrors.ErrUnauthorized.WithMessage(fmt.Sprintf("missing native authority of %s", account))
	}
	return nil
}
