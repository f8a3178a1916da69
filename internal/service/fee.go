package service

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/authrelay/authrelay/internal/config"
	"github.com/authrelay/authrelay/internal/ledger"
	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// FeeEngine prices protocol actions. It blends the oracle price of the
// native asset with a per-account discount attribute and supports two
// payment paths: the native asset and the application credit asset.
type FeeEngine struct {
	cfg    config.ProtocolConfig
	tokens ledger.TokenLedger
	oracle ledger.PriceOracle
	attrs  ledger.AttributeRegistry
}

// NewFeeEngine creates a fee engine.
func NewFeeEngine(cfg config.ProtocolConfig, tokens ledger.TokenLedger, oracle ledger.PriceOracle, attrs ledger.AttributeRegistry) *FeeEngine {
	return &FeeEngine{cfg: cfg, tokens: tokens, oracle: oracle, attrs: attrs}
}

// UnitPrice converts the oracle price into whole native units per credit
// unit: floor(1 / price).
func (e *FeeEngine) UnitPrice(ctx context.Context) (int64, error) {
	price, err := e.oracle.Price(ctx, e.cfg.PricePair)
	if err != nil {
		return 0, err
	}

	unit := int64(1 / price)
	if unit <= 0 {
		return 0, apierrors.ErrInvalidPrice
	}
	return unit, nil
}

// PurchaseFee computes the undiscounted native-asset cost of a credit
// quantity at the current oracle price.
func (e *FeeEngine) PurchaseFee(ctx context.Context, quantity models.Asset) (models.Asset, error) {
	unit, err := e.UnitPrice(ctx)
	if err != nil {
		return models.Asset{}, err
	}
	return e.cfg.NativeAsset(quantity.Amount * unit), nil
}

// AccountDiscount reads the account's discount attribute: a little-endian
// float64 in [0, 1]. Absent, unset, and issuer-invalidated all default to
// 1.0 (no discount); a present value outside [0, 1] is an error.
func (e *FeeEngine) AccountDiscount(ctx context.Context, account string) (float64, error) {
	raw, err := e.attrs.Attribute(ctx, e.cfg.AttributeIssuer, account, e.cfg.DiscountAttribute)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 1.0, nil
	}
	if len(raw) != 8 {
		return 0, apierrors.ErrAttributeValue
	}

	discount := math.Float64frombits(binary.LittleEndian.Uint64(raw))
	if math.IsNaN(discount) || discount < 0 || discount > 1 {
		return 0, apierrors.ErrAttributeValue
	}
	return discount, nil
}

// EncodeDiscount packs a discount value in the attribute wire form.
func EncodeDiscount(discount float64) []byte {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, math.Float64bits(discount))
	return raw
}

// ChargeStorageFee debits the payer for one key-storage unit. The ceiling's
// denomination picks the payment path. All checks run before the first
// debit, so a failure never leaves a partial charge.
func (e *FeeEngine) ChargeStorageFee(ctx context.Context, payer string, ceiling models.Asset) error {
	unitCost := e.cfg.StorageFee()

	// Full-symbol match: a ceiling with the right code at the wrong
	// precision is not a valid payment method.
	switch ceiling.Symbol {
	case e.cfg.NativeSym():
		fee, err := e.PurchaseFee(ctx, unitCost)
		if err != nil {
			return err
		}
		discount, err := e.AccountDiscount(ctx, payer)
		if err != nil {
			return err
		}
		fee = fee.MulByFloat(discount)

		if fee.Amount >= ceiling.Amount {
			return apierrors.ErrPriceAboveLimit
		}
		balance, err := e.tokens.Balance(ctx, payer, fee.Symbol)
		if err != nil {
			return err
		}
		if balance.Amount < fee.Amount {
			return apierrors.ErrOverdrawnBalance
		}

		// The charged fee joins the contract's native reserve and the unit
		// cost joins the credit supply before the reward is computed. A fully
		// discounted fee still retires its unit cost below.
		if fee.IsPositive() {
			if err := e.tokens.Transfer(ctx, payer, e.cfg.ContractAccount, fee, "application key storage fee"); err != nil {
				return err
			}
		}
		if err := e.tokens.Issue(ctx, e.cfg.ContractAccount, unitCost, "credits for storage fee"); err != nil {
			return err
		}
		feesChargedTotal.WithLabelValues(fee.Symbol.Code).Add(float64(fee.Amount))

	case e.cfg.CreditSym():
		// Denominated in credit units already; the discount does not apply.
		supply, err := e.tokens.Supply(ctx, unitCost.Symbol)
		if err != nil {
			return err
		}
		if supply.Amount <= 0 {
			return apierrors.ErrOverdrawnBalance.WithMessage("no outstanding credit supply")
		}
		balance, err := e.tokens.Balance(ctx, payer, unitCost.Symbol)
		if err != nil {
			return err
		}
		if balance.Amount < unitCost.Amount {
			return apierrors.ErrOverdrawnBalance
		}
		if err := e.tokens.Transfer(ctx, payer, e.cfg.ContractAccount, unitCost, "application key storage fee"); err != nil {
			return err
		}
		feesChargedTotal.WithLabelValues(unitCost.Symbol.Code).Add(float64(unitCost.Amount))

	default:
		return apierrors.ErrUnavailablePayment
	}

	return e.distributeReward(ctx, unitCost)
}

// distributeReward retires the consumed credit units and moves the
// proportional share of the contract's native reserve to the reward pool:
// reward = floor(reserve / supply * unit_cost).
func (e *FeeEngine) distributeReward(ctx context.Context, unitCost models.Asset) error {
	reserve, err := e.tokens.Balance(ctx, e.cfg.ContractAccount, e.cfg.NativeSym())
	if err != nil {
		return err
	}
	supply, err := e.tokens.Supply(ctx, unitCost.Symbol)
	if err != nil {
		return err
	}
	if supply.Amount <= 0 {
		return apierrors.ErrOverdrawnBalance.WithMessage("no outstanding credit supply")
	}

	reward := e.cfg.NativeAsset(int64(float64(reserve.Amount) / float64(supply.Amount) * float64(unitCost.Amount)))
	if reward.IsPositive() {
		if err := e.tokens.Transfer(ctx, e.cfg.ContractAccount, e.cfg.RewardPool, reward, "storage fee reward"); err != nil {
			return err
		}
	}

	return e.tokens.Retire(ctx, unitCost, "consumed storage fee credits")
}
