package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/internal/ledger"
	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

func newFeeFixture(t *testing.T) (*FeeEngine, *ledger.MemoryLedger, *ledger.StaticOracle, *ledger.MemoryAttributes) {
	t.Helper()
	cfg := testProtocolConfig()
	tokens := ledger.NewMemoryLedger()
	oracle := ledger.NewStaticOracle(map[string]float64{"rem.usd": 0.003210})
	attrs := ledger.NewMemoryAttributes()
	return NewFeeEngine(cfg, tokens, oracle, attrs), tokens, oracle, attrs
}

func TestUnitPrice(t *testing.T) {
	engine, _, oracle, _ := newFeeFixture(t)
	ctx := context.Background()

	unit, err := engine.UnitPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(311), unit) // floor(1 / 0.003210)

	// A price above one native unit per credit unit floors to zero.
	oracle.SetPrice("rem.usd", 1.5)
	_, err = engine.UnitPrice(ctx)
	assert.ErrorIs(t, err, apierrors.ErrInvalidPrice)

	oracle.SetPrice("rem.usd", -0.5)
	_, err = engine.UnitPrice(ctx)
	assert.ErrorIs(t, err, apierrors.ErrInvalidPrice)
}

func TestUnitPriceUnlistedPair(t *testing.T) {
	cfg := testProtocolConfig()
	engine := NewFeeEngine(cfg, ledger.NewMemoryLedger(), ledger.NewStaticOracle(nil), ledger.NewMemoryAttributes())

	_, err := engine.UnitPrice(context.Background())
	assert.ErrorIs(t, err, apierrors.ErrPriceUnavailable)
}

func TestAccountDiscount(t *testing.T) {
	engine, _, _, attrs := newFeeFixture(t)
	ctx := context.Background()

	// Absent defaults to no discount.
	discount, err := engine.AccountDiscount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1.0, discount)

	attrs.Set("rem.attr", "alice", "discount", EncodeDiscount(0.5))
	discount, err = engine.AccountDiscount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0.5, discount)

	// Unset collapses back to the default.
	attrs.Unset("rem.attr", "alice", "discount")
	discount, err = engine.AccountDiscount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1.0, discount)

	// Out-of-range and malformed values are errors, zero is not free-pass.
	attrs.Set("rem.attr", "alice", "discount", EncodeDiscount(1.5))
	_, err = engine.AccountDiscount(ctx, "alice")
	assert.ErrorIs(t, err, apierrors.ErrAttributeValue)

	attrs.Set("rem.attr", "alice", "discount", EncodeDiscount(-0.1))
	_, err = engine.AccountDiscount(ctx, "alice")
	assert.ErrorIs(t, err, apierrors.ErrAttributeValue)

	attrs.Set("rem.attr", "alice", "discount", []byte{0x01, 0x02})
	_, err = engine.AccountDiscount(ctx, "alice")
	assert.ErrorIs(t, err, apierrors.ErrAttributeValue)

	attrs.Set("rem.attr", "alice", "discount", EncodeDiscount(0))
	discount, err = engine.AccountDiscount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0.0, discount)
}

func TestChargeStorageFeeNativePath(t *testing.T) {
	engine, tokens, _, _ := newFeeFixture(t)
	cfg := testProtocolConfig()
	ctx := context.Background()

	tokens.Seed("alice", cfg.NativeAsset(5000000))

	err := engine.ChargeStorageFee(ctx, "alice", cfg.NativeAsset(5000000))
	require.NoError(t, err)

	balance, err := tokens.Balance(ctx, "alice", cfg.NativeAsset(0).Symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(5000000-3110000), balance.Amount)

	// Issue and retire cancel out.
	supply, err := tokens.Supply(ctx, cfg.CreditAsset(0).Symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(0), supply.Amount)
}

func TestChargeStorageFeeDiscountMonotonic(t *testing.T) {
	chargeWith := func(discount float64) int64 {
		engine, tokens, _, attrs := newFeeFixture(t)
		cfg := testProtocolConfig()
		ctx := context.Background()

		tokens.Seed("alice", cfg.NativeAsset(5000000))
		attrs.Set("rem.attr", "alice", "discount", EncodeDiscount(discount))

		require.NoError(t, engine.ChargeStorageFee(ctx, "alice", cfg.NativeAsset(5000000)))

		balance, err := tokens.Balance(ctx, "alice", cfg.NativeAsset(0).Symbol)
		require.NoError(t, err)
		return 5000000 - balance.Amount
	}

	full := chargeWith(1.0)
	half := chargeWith(0.5)
	assert.Equal(t, int64(3110000), full)
	assert.Equal(t, int64(1555000), half)
	assert.LessOrEqual(t, half, full)
}

func TestChargeStorageFeeCreditPath(t *testing.T) {
	engine, tokens, _, _ := newFeeFixture(t)
	cfg := testProtocolConfig()
	ctx := context.Background()

	// No outstanding supply: the credit path cannot price the reward.
	tokens.Seed("alice", cfg.CreditAsset(10000))
	err := engine.ChargeStorageFee(ctx, "alice", cfg.CreditAsset(10000))
	assert.ErrorIs(t, err, apierrors.ErrOverdrawnBalance)

	// With supply outstanding and contract reserves, the fee retires one
	// unit cost and pays the proportional reward.
	require.NoError(t, tokens.Issue(ctx, "bob", cfg.CreditAsset(20000), "seed supply"))
	tokens.Seed("authrelay", cfg.NativeAsset(1000000)) // 100.0000 REM reserve

	require.NoError(t, engine.ChargeStorageFee(ctx, "alice", cfg.CreditAsset(10000)))

	balance, err := tokens.Balance(ctx, "alice", cfg.CreditAsset(0).Symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Amount)

	supply, err := tokens.Supply(ctx, cfg.CreditAsset(0).Symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), supply.Amount)

	// reward = floor(1000000 / 20000 * 10000) = 500000
	reward, err := tokens.Balance(ctx, "auth.reward", cfg.NativeAsset(0).Symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), reward.Amount)
}

func TestChargeStorageFeeUnknownDenomination(t *testing.T) {
	engine, _, _, _ := newFeeFixture(t)
	cfg := testProtocolConfig()

	ceiling := cfg.NativeAsset(5000000)
	ceiling.Symbol.Code = "USD"
	err := engine.ChargeStorageFee(context.Background(), "alice", ceiling)
	assert.ErrorIs(t, err, apierrors.ErrUnavailablePayment)
}

func TestChargeStorageFeePrecisionMismatch(t *testing.T) {
	engine, tokens, _, _ := newFeeFixture(t)
	cfg := testProtocolConfig()
	ctx := context.Background()

	tokens.Seed("alice", cfg.NativeAsset(5000000))

	// "500 REM" parses at precision 0: right code, wrong scale. Comparing it
	// against a 4-decimal fee would make the ceiling 10000x looser.
	ceiling, err := models.ParseAsset("500 REM")
	require.NoError(t, err)

	err = engine.ChargeStorageFee(ctx, "alice", ceiling)
	assert.ErrorIs(t, err, apierrors.ErrUnavailablePayment)

	balance, err := tokens.Balance(ctx, "alice", cfg.NativeAsset(0).Symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(5000000), balance.Amount)
}

func TestChargeStorageFeeInsufficientBalance(t *testing.T) {
	engine, tokens, _, _ := newFeeFixture(t)
	cfg := testProtocolConfig()
	ctx := context.Background()

	tokens.Seed("alice", cfg.NativeAsset(1000000)) // 100.0000 REM, fee is 311.0000
	err := engine.ChargeStorageFee(ctx, "alice", cfg.NativeAsset(5000000))
	assert.ErrorIs(t, err, apierrors.ErrOverdrawnBalance)

	balance, err := tokens.Balance(ctx, "alice", cfg.NativeAsset(0).Symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), balance.Amount, "failed charge must not debit")
}
