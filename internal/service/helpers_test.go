package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/internal/config"
	"github.com/authrelay/authrelay/internal/crypto"
	"github.com/authrelay/authrelay/internal/ledger"
	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
	"github.com/authrelay/authrelay/internal/repository"
)

// memKeyStore is an in-memory KeyStore mirroring the SQL contract.
type memKeyStore struct {
	nextID int64
	keys   []*models.ApplicationKey
}

func (m *memKeyStore) Create(ctx context.Context, key *models.ApplicationKey) error {
	m.nextID++
	key.ID = m.nextID
	key.CreatedAt = time.Now().UTC()
	cp := *key
	m.keys = append(m.keys, &cp)
	return nil
}

func (m *memKeyStore) GetByID(ctx context.Context, id int64) (*models.ApplicationKey, error) {
	for _, k := range m.keys {
		if k.ID == id {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memKeyStore) FindActive(ctx context.Context, owner string, publicKey []byte, now time.Time) (*models.ApplicationKey, error) {
	for _, k := range m.keys {
		if k.Owner == owner && string(k.PublicKey) == string(publicKey) && k.ActiveAt(now) {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memKeyStore) FindLatestByKey(ctx context.Context, publicKey []byte) (*models.ApplicationKey, error) {
	for i := len(m.keys) - 1; i >= 0; i-- {
		k := m.keys[i]
		if string(k.PublicKey) == string(publicKey) && k.RevokedAt == nil {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memKeyStore) HasKeys(ctx context.Context, owner string) (bool, error) {
	for _, k := range m.keys {
		if k.Owner == owner {
			return true, nil
		}
	}
	return false, nil
}

func (m *memKeyStore) Revoke(ctx context.Context, id int64, at time.Time) error {
	for _, k := range m.keys {
		if k.ID == id {
			if k.RevokedAt != nil {
				return apierrors.ErrAlreadyRevoked
			}
			t := at
			k.RevokedAt = &t
			return nil
		}
	}
	return apierrors.ErrAlreadyRevoked
}

func (m *memKeyStore) SweepExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) (int, error) {
	deleted := 0
	for deleted < limit && len(m.keys) > 0 {
		oldest := m.keys[0]
		if now.Before(oldest.NotValidAfter.Add(grace)) {
			break
		}
		m.keys = m.keys[1:]
		deleted++
	}
	return deleted, nil
}

// memRelayStore is an in-memory RelayStore.
type memRelayStore struct {
	nextID  int64
	records []*models.RelayedAction
}

func (m *memRelayStore) RecordIfAbsent(ctx context.Context, record *models.RelayedAction) error {
	for _, r := range m.records {
		if string(r.Fingerprint) == string(record.Fingerprint) {
			return apierrors.ErrAlreadyExecuted
		}
	}
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now().UTC()
	cp := *record
	m.records = append(m.records, &cp)
	return nil
}

func (m *memRelayStore) SweepExpired(ctx context.Context, now time.Time, expiry time.Duration, limit int) (int, error) {
	deleted := 0
	for deleted < limit && len(m.records) > 0 {
		oldest := m.records[0]
		if now.Before(oldest.ActionTime.Add(expiry)) {
			break
		}
		m.records = m.records[1:]
		deleted++
	}
	return deleted, nil
}

// memUnitOfWork hands out the same stores on every call; atomicity is not
// exercised in-memory.
type memUnitOfWork struct {
	stores repository.Stores
}

func (u *memUnitOfWork) Do(ctx context.Context, fn func(s repository.Stores) error) error {
	return fn(u.stores)
}

// fixedClock is a settable test clock.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testProtocolConfig() config.ProtocolConfig {
	return config.ProtocolConfig{
		KeyLifetime:       360 * 24 * time.Hour,
		KeyCleanupGrace:   180 * 24 * time.Hour,
		RelayExpiry:       30 * 24 * time.Hour,
		RelayFreshness:    time.Hour,
		ReplacementGrace:  30 * 24 * time.Hour,
		CleanupBatch:      10,
		StorageFeeAmount:  10000,
		Precision:         4,
		NativeSymbol:      "REM",
		CreditSymbol:      "AUTH",
		PricePair:         "rem.usd",
		ContractAccount:   "authrelay",
		RewardPool:        "auth.reward",
		AttributeIssuer:   "rem.attr",
		DiscountAttribute: "discount",
	}
}

// fixture wires the service against in-memory collaborators.
type fixture struct {
	svc        *AuthService
	cfg        config.ProtocolConfig
	keys       *memKeyStore
	relays     *memRelayStore
	tokens     *ledger.MemoryLedger
	oracle     *ledger.StaticOracle
	attrs      *ledger.MemoryAttributes
	dispatcher *ledger.RecordingDispatcher
	clock      *fixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testProtocolConfig()
	keys := &memKeyStore{}
	relays := &memRelayStore{}
	tokens := ledger.NewMemoryLedger()
	oracle := ledger.NewStaticOracle(map[string]float64{"rem.usd": 0.003210})
	attrs := ledger.NewMemoryAttributes()
	dispatcher := ledger.NewRecordingDispatcher()
	clock := &fixedClock{now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}

	uow := &memUnitOfWork{stores: repository.Stores{Keys: keys, Relays: relays}}
	fees := NewFeeEngine(cfg, tokens, oracle, attrs)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuthService(cfg, uow, nil, tokens, fees, oracle, dispatcher, ledger.ContextAuthority{}, clock, logger)

	return &fixture{
		svc:        svc,
		cfg:        cfg,
		keys:       keys,
		relays:     relays,
		tokens:     tokens,
		oracle:     oracle,
		attrs:      attrs,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

// authedAs returns a context carrying native authority for the accounts.
func authedAs(accounts ...string) context.Context {
	return ledger.WithAuthorizedAccounts(context.Background(), accounts...)
}

// keypair bundles a private key with its protocol public key.
type keypair struct {
	priv *btcec.PrivateKey
	pub  crypto.PublicKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return keypair{
		priv: priv,
		pub:  crypto.PublicKey{Algorithm: crypto.AlgorithmSecp256k1, Data: priv.PubKey().SerializeCompressed()},
	}
}

func (k keypair) sign(digest []byte) crypto.Signature {
	return crypto.SignSecp256k1(k.priv, digest)
}

// registerOwned registers a key for owner with a self-paid fee and ceiling
// 500.0000 REM.
func (f *fixture) registerOwned(t *testing.T, owner string, kp keypair) *models.ApplicationKey {
	t.Helper()

	digest := crypto.RegisterOwnedKeyDigest(owner, kp.pub, "")
	key, err := f.svc.RegisterByOwner(authedAs(owner), RegisterOwnedKeyParams{
		Owner:     owner,
		Key:       kp.pub,
		Signature: kp.sign(digest),
		MaxPrice:  f.cfg.NativeAsset(5000000),
	})
	require.NoError(t, err)
	return key
}

func (f *fixture) balance(t *testing.T, account, symbol string) int64 {
	t.Helper()
	a, err := f.tokens.Balance(context.Background(), account, models.Symbol{Code: symbol, Precision: 4})
	require.NoError(t, err)
	return a.Amount
}

func (f *fixture) supply(t *testing.T, symbol string) int64 {
	t.Helper()
	a, err := f.tokens.Supply(context.Background(), models.Symbol{Code: symbol, Precision: 4})
	require.NoError(t, err)
	return a.Amount
}
