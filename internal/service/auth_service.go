// Package service implements the protocol actions over the key registry,
// replay log, fee engine, and ledger ports.
package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/authrelay/authrelay/internal/config"
	"github.com/authrelay/authrelay/internal/crypto"
	"github.com/authrelay/authrelay/internal/ledger"
	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
	"github.com/authrelay/authrelay/internal/pkg/ulid"
	"github.com/authrelay/authrelay/internal/repository"
)

// AuthService executes the protocol actions. Every action runs its registry
// and replay-log work inside one serializable transaction; ledger, oracle,
// and attribute reads go through their ports.
type AuthService struct {
	cfg        config.ProtocolConfig
	uow        repository.UnitOfWork
	audit      repository.AuditRepository
	tokens     ledger.TokenLedger
	fees       *FeeEngine
	oracle     ledger.PriceOracle
	dispatcher ledger.Dispatcher
	authority  ledger.Authority
	clock      ledger.Clock
	logger     *slog.Logger
}

// NewAuthService creates the protocol service. audit may be nil.
func NewAuthService(
	cfg config.ProtocolConfig,
	uow repository.UnitOfWork,
	audit repository.AuditRepository,
	tokens ledger.TokenLedger,
	fees *FeeEngine,
	oracle ledger.PriceOracle,
	dispatcher ledger.Dispatcher,
	authority ledger.Authority,
	clock ledger.Clock,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		cfg:        cfg,
		uow:        uow,
		audit:      audit,
		tokens:     tokens,
		fees:       fees,
		oracle:     oracle,
		dispatcher: dispatcher,
		authority:  authority,
		clock:      clock,
		logger:     logger,
	}
}

// RegisterOwnedKeyParams carries a native-authorized key registration.
type RegisterOwnedKeyParams struct {
	Owner     string
	Key       crypto.PublicKey
	Signature crypto.Signature
	Payer     string
	MaxPrice  models.Asset
}

// RegisterByOwner registers a new application key for an account that
// proves native authority over itself. Possession of the new key is proven
// by a signature over the registration digest.
func (s *AuthService) RegisterByOwner(ctx context.Context, p RegisterOwnedKeyParams) (key *models.ApplicationKey, err error) {
	defer func() { observeAction("register_by_owner", err) }()

	if err = s.authority.RequireAuth(ctx, p.Owner); err != nil {
		return nil, err
	}
	payer := p.Payer
	payerField := ""
	if payer == "" || payer == p.Owner {
		payer = p.Owner
	} else {
		payerField = payer
		if err = s.authority.RequireAuth(ctx, payer); err != nil {
			return nil, err
		}
	}

	digest := crypto.RegisterOwnedKeyDigest(p.Owner, p.Key, payerField)
	if err = crypto.AssertRecover(digest, p.Signature, p.Key); err != nil {
		return nil, err
	}

	err = s.uow.Do(ctx, func(st repository.Stores) error {
		var txErr error
		key, txErr = s.registerKey(ctx, st, p.Owner, p.Key, payer, p.MaxPrice)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application key registered",
		"owner", p.Owner,
		"key", p.Key.String(),
		"payer", payer,
	)
	s.recordAudit(models.AuditEventKeyRegistered, p.Owner, map[string]any{
		"key":   p.Key.String(),
		"payer": payer,
	})
	return key, nil
}

// RegisterLinkedKeyParams carries a key-holder-authorized registration: the
// new key and an already-active key co-sign the same digest.
type RegisterLinkedKeyParams struct {
	Owner             string
	NewKey            crypto.PublicKey
	NewSignature      crypto.Signature
	ExistingKey       crypto.PublicKey
	ExistingSignature crypto.Signature
	Payer             string
	MaxPrice          models.Asset
}

// RegisterByExistingKey registers a new application key authorized by an
// existing active key instead of native authority. Native authority is
// required only over an explicitly named payer.
func (s *AuthService) RegisterByExistingKey(ctx context.Context, p RegisterLinkedKeyParams) (key *models.ApplicationKey, err error) {
	defer func() { observeAction("register_by_existing_key", err) }()

	payer := p.Owner
	payerField := ""
	if p.Payer != "" && p.Payer != p.Owner {
		payer = p.Payer
		payerField = p.Payer
		if err = s.authority.RequireAuth(ctx, payer); err != nil {
			return nil, err
		}
	}

	digest := crypto.RegisterLinkedKeyDigest(p.Owner, p.NewKey, p.ExistingKey, payerField)
	if err = crypto.AssertRecover(digest, p.NewSignature, p.NewKey); err != nil {
		return nil, err
	}
	if err = crypto.AssertRecover(digest, p.ExistingSignature, p.ExistingKey); err != nil {
		return nil, err
	}

	err = s.uow.Do(ctx, func(st repository.Stores) error {
		if _, txErr := s.requireActiveKey(ctx, st, p.Owner, p.ExistingKey); txErr != nil {
			return txErr
		}
		var txErr error
		key, txErr = s.registerKey(ctx, st, p.Owner, p.NewKey, payer, p.MaxPrice)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application key registered by existing key",
		"owner", p.Owner,
		"key", p.NewKey.String(),
		"authorized_by", p.ExistingKey.String(),
	)
	s.recordAudit(models.AuditEventKeyRegistered, p.Owner, map[string]any{
		"key":           p.NewKey.String(),
		"authorized_by": p.ExistingKey.String(),
		"payer":         payer,
	})
	return key, nil
}

// ReplaceKeyParams carries an atomic key rotation: the old key is revoked
// and the new key registered in one action.
type ReplaceKeyParams struct {
	Owner        string
	NewKey       crypto.PublicKey
	NewSignature crypto.Signature
	OldKey       crypto.PublicKey
	OldSignature crypto.Signature
	Payer        string
	MaxPrice     models.Asset
}

// ReplaceKey rotates an application key. The old key may already be past
// its validity window, as long as the replacement grace period has not
// elapsed; this lets holders of an expired key rotate without native
// authority.
func (s *AuthService) ReplaceKey(ctx context.Context, p ReplaceKeyParams) (key *models.ApplicationKey, err error) {
	defer func() { observeAction("replace_key", err) }()

	payer := p.Owner
	payerField := ""
	if p.Payer != "" && p.Payer != p.Owner {
		payer = p.Payer
		payerField = p.Payer
		if err = s.authority.RequireAuth(ctx, payer); err != nil {
			return nil, err
		}
	}

	digest := crypto.RegisterLinkedKeyDigest(p.Owner, p.NewKey, p.OldKey, payerField)
	if err = crypto.AssertRecover(digest, p.NewSignature, p.NewKey); err != nil {
		return nil, err
	}
	if err = crypto.AssertRecover(digest, p.OldSignature, p.OldKey); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	err = s.uow.Do(ctx, func(st repository.Stores) error {
		old, txErr := st.Keys.FindLatestByKey(ctx, p.OldKey.Data)
		if txErr != nil {
			return txErr
		}
		if old == nil {
			return s.noKeyError(ctx, st, p.Owner)
		}
		if old.Owner != p.Owner {
			return apierrors.ErrKeyOwnerMismatch
		}
		if !now.Before(old.NotValidAfter.Add(s.cfg.ReplacementGrace)) {
			return apierrors.ErrKeyExpired.WithMessage("key is past its replacement grace period")
		}

		if txErr = st.Keys.Revoke(ctx, old.ID, now); txErr != nil {
			return txErr
		}
		key, txErr = s.registerKey(ctx, st, p.Owner, p.NewKey, payer, p.MaxPrice)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application key replaced",
		"owner", p.Owner,
		"old_key", p.OldKey.String(),
		"new_key", p.NewKey.String(),
	)
	s.recordAudit(models.AuditEventKeyReplaced, p.Owner, map[string]any{
		"old_key": p.OldKey.String(),
		"new_key": p.NewKey.String(),
	})
	return key, nil
}

// registerKey inserts the record, charges the storage fee, and runs the
// bounded key sweep. Caller holds the transaction.
func (s *AuthService) registerKey(ctx context.Context, st repository.Stores, owner string, pub crypto.PublicKey, payer string, maxPrice models.Asset) (*models.ApplicationKey, error) {
	now := s.clock.Now()

	existing, err := st.Keys.FindActive(ctx, owner, pub.Data, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apierrors.ErrKeyAlreadyRegistered
	}

	key := &models.ApplicationKey{
		Owner:          owner,
		PublicKey:      pub.Data,
		Algorithm:      pub.Algorithm.String(),
		NotValidBefore: now,
		NotValidAfter:  now.Add(s.cfg.KeyLifetime),
		Payer:          payer,
	}
	if err := st.Keys.Create(ctx, key); err != nil {
		return nil, err
	}

	if err := s.fees.ChargeStorageFee(ctx, payer, maxPrice); err != nil {
		return nil, err
	}

	swept, err := st.Keys.SweepExpired(ctx, now, s.cfg.KeyCleanupGrace, s.cfg.CleanupBatch)
	if err != nil {
		return nil, err
	}
	if swept > 0 {
		sweptRecordsTotal.WithLabelValues("app_keys").Add(float64(swept))
	}
	return key, nil
}

// RevokeByOwner revokes an active key under native authority of its owner.
func (s *AuthService) RevokeByOwner(ctx context.Context, owner string, pub crypto.PublicKey) (err error) {
	defer func() { observeAction("revoke_by_owner", err) }()

	if err = s.authority.RequireAuth(ctx, owner); err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.uow.Do(ctx, func(st repository.Stores) error {
		target, txErr := s.requireActiveKey(ctx, st, owner, pub)
		if txErr != nil {
			return txErr
		}
		return st.Keys.Revoke(ctx, target.ID, now)
	})
	if err != nil {
		return err
	}

	s.logger.Info("application key revoked", "owner", owner, "key", pub.String())
	s.recordAudit(models.AuditEventKeyRevoked, owner, map[string]any{"key": pub.String()})
	return nil
}

// RevokeByExistingKey revokes an active key authorized by another active
// key of the same owner, with no native authority involved.
func (s *AuthService) RevokeByExistingKey(ctx context.Context, owner string, revokedKey, authorizingKey crypto.PublicKey, sig crypto.Signature) (err error) {
	defer func() { observeAction("revoke_by_existing_key", err) }()

	digest := crypto.RevokeLinkedKeyDigest(owner, revokedKey, authorizingKey)
	if err = crypto.AssertRecover(digest, sig, authorizingKey); err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.uow.Do(ctx, func(st repository.Stores) error {
		if _, txErr := s.requireActiveKey(ctx, st, owner, authorizingKey); txErr != nil {
			return txErr
		}
		target, txErr := s.requireActiveKey(ctx, st, owner, revokedKey)
		if txErr != nil {
			return txErr
		}
		return st.Keys.Revoke(ctx, target.ID, now)
	})
	if err != nil {
		return err
	}

	s.logger.Info("application key revoked by existing key",
		"owner", owner,
		"key", revokedKey.String(),
		"authorized_by", authorizingKey.String(),
	)
	s.recordAudit(models.AuditEventKeyRevoked, owner, map[string]any{
		"key":           revokedKey.String(),
		"authorized_by": authorizingKey.String(),
	})
	return nil
}

// RelayParams carries a signed action relay.
type RelayParams struct {
	Account    string
	Action     models.Action
	ActionTime time.Time
	Key        crypto.PublicKey
	Signature  crypto.Signature
}

// RelayAction executes an arbitrary ledger action authorized by an active
// application key instead of a native signature. The signing digest doubles
// as the replay-protection fingerprint.
func (s *AuthService) RelayAction(ctx context.Context, p RelayParams) (err error) {
	defer func() { observeAction("relay_action", err) }()

	now := s.clock.Now()
	if p.ActionTime.Before(now.Add(-s.cfg.RelayFreshness)) {
		return apierrors.ErrTimestampExpired
	}
	if len(p.Action.Authorization) != 1 || p.Action.Authorization[0].Actor != p.Account {
		return apierrors.ErrUnauthorized.WithMessage("action must be authorized solely by its account")
	}

	digest := crypto.RelayDigest(p.Account, p.Action.Pack(), p.ActionTime, p.Key)
	if err = crypto.AssertRecover(digest, p.Signature, p.Key); err != nil {
		return err
	}

	err = s.uow.Do(ctx, func(st repository.Stores) error {
		if _, txErr := s.requireActiveKey(ctx, st, p.Account, p.Key); txErr != nil {
			return txErr
		}

		record := &models.RelayedAction{
			Fingerprint: digest,
			Account:     p.Account,
			ActionTime:  p.ActionTime,
		}
		if txErr := st.Relays.RecordIfAbsent(ctx, record); txErr != nil {
			return txErr
		}
		if txErr := s.dispatcher.Dispatch(ctx, p.Action); txErr != nil {
			return txErr
		}

		swept, txErr := st.Relays.SweepExpired(ctx, now, s.cfg.RelayExpiry, s.cfg.CleanupBatch)
		if txErr != nil {
			return txErr
		}
		if swept > 0 {
			sweptRecordsTotal.WithLabelValues("relayed_actions").Add(float64(swept))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("action relayed",
		"account", p.Account,
		"contract", p.Action.Contract,
		"name", p.Action.Name,
		"fingerprint", hex.EncodeToString(digest),
	)
	s.recordAudit(models.AuditEventActionRelayed, p.Account, map[string]any{
		"contract":    p.Action.Contract,
		"name":        p.Action.Name,
		"fingerprint": hex.EncodeToString(digest),
	})
	return nil
}

// TransferParams carries an application-key-authorized native transfer.
type TransferParams struct {
	From      string
	To        string
	Quantity  models.Asset
	Memo      string
	Key       crypto.PublicKey
	Signature crypto.Signature
}

// Transfer moves native assets under an application-key signature. No replay
// record is kept; the ledger's own transfer semantics provide idempotency at
// the transaction level.
func (s *AuthService) Transfer(ctx context.Context, p TransferParams) (err error) {
	defer func() { observeAction("transfer", err) }()

	if !p.Quantity.IsPositive() || p.Quantity.Symbol != s.cfg.NativeSym() {
		return apierrors.ErrInvalidAsset
	}

	digest := crypto.TransferDigest(p.From, p.To, p.Quantity.String(), p.Memo, p.Key)
	if err = crypto.AssertRecover(digest, p.Signature, p.Key); err != nil {
		return err
	}

	err = s.uow.Do(ctx, func(st repository.Stores) error {
		if _, txErr := s.requireActiveKey(ctx, st, p.From, p.Key); txErr != nil {
			return txErr
		}
		return s.tokens.Transfer(ctx, p.From, p.To, p.Quantity, p.Memo)
	})
	if err != nil {
		return err
	}

	s.logger.Info("authorized transfer",
		"from", p.From,
		"to", p.To,
		"quantity", p.Quantity.String(),
	)
	s.recordAudit(models.AuditEventTransferSigned, p.From, map[string]any{
		"to":       p.To,
		"quantity": p.Quantity.String(),
	})
	return nil
}

// PurchaseCredit buys application credit with the native asset under native
// authority. The credit is issued to the contract account and handed to the
// purchaser 1:1 with the requested quantity.
func (s *AuthService) PurchaseCredit(ctx context.Context, account string, quantity models.Asset, maxPrice float64) (err error) {
	defer func() { observeAction("purchase_credit", err) }()

	if err = s.authority.RequireAuth(ctx, account); err != nil {
		return err
	}
	if !quantity.IsPositive() {
		return apierrors.ErrInvalidAsset
	}
	if quantity.Symbol != s.cfg.CreditSym() {
		return apierrors.ErrInvalidAsset.WithMessage("symbol precision mismatch")
	}

	price, err := s.oracle.Price(ctx, s.cfg.PricePair)
	if err != nil {
		return err
	}
	if maxPrice <= price {
		return apierrors.ErrPriceAboveLimit
	}

	fee, err := s.fees.PurchaseFee(ctx, quantity)
	if err != nil {
		return err
	}
	discount, err := s.fees.AccountDiscount(ctx, account)
	if err != nil {
		return err
	}
	fee = fee.MulByFloat(discount)

	if fee.IsPositive() {
		if err = s.tokens.Transfer(ctx, account, s.cfg.ContractAccount, fee, "purchase application credits"); err != nil {
			return err
		}
	}
	if err = s.tokens.Issue(ctx, s.cfg.ContractAccount, quantity, "issue application credits"); err != nil {
		return err
	}
	if err = s.tokens.Transfer(ctx, s.cfg.ContractAccount, account, quantity, "purchased application credits"); err != nil {
		return err
	}

	s.logger.Info("credit purchased",
		"account", account,
		"quantity", quantity.String(),
		"fee", fee.String(),
	)
	s.recordAudit(models.AuditEventCreditPurchase, account, map[string]any{
		"quantity": quantity.String(),
		"fee":      fee.String(),
	})
	return nil
}

// CleanupResult reports one garbage-collection sweep.
type CleanupResult struct {
	RunID       string `json:"run_id"`
	KeysSwept   int    `json:"keys_swept"`
	RelaysSwept int    `json:"relays_swept"`
}

// Cleanup runs both bounded sweeps. It is also triggered implicitly by the
// charging and relay actions.
func (s *AuthService) Cleanup(ctx context.Context) (result *CleanupResult, err error) {
	defer func() { observeAction("cleanup", err) }()

	runID := ulid.New()
	now := s.clock.Now()

	res := CleanupResult{RunID: runID}
	err = s.uow.Do(ctx, func(st repository.Stores) error {
		var txErr error
		res.KeysSwept, txErr = st.Keys.SweepExpired(ctx, now, s.cfg.KeyCleanupGrace, s.cfg.CleanupBatch)
		if txErr != nil {
			return txErr
		}
		res.RelaysSwept, txErr = st.Relays.SweepExpired(ctx, now, s.cfg.RelayExpiry, s.cfg.CleanupBatch)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	if res.KeysSwept > 0 {
		sweptRecordsTotal.WithLabelValues("app_keys").Add(float64(res.KeysSwept))
	}
	if res.RelaysSwept > 0 {
		sweptRecordsTotal.WithLabelValues("relayed_actions").Add(float64(res.RelaysSwept))
	}

	s.logger.Info("cleanup sweep finished",
		"run_id", runID,
		"keys_swept", res.KeysSwept,
		"relays_swept", res.RelaysSwept,
	)
	return &res, nil
}

// requireActiveKey resolves the active record for (owner, key) or fails
// with the precise state error: no keys at all vs. no active match.
func (s *AuthService) requireActiveKey(ctx context.Context, st repository.Stores, owner string, pub crypto.PublicKey) (*models.ApplicationKey, error) {
	record, err := st.Keys.FindActive(ctx, owner, pub.Data, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, s.noKeyError(ctx, st, owner)
	}
	return record, nil
}

func (s *AuthService) noKeyError(ctx context.Context, st repository.Stores, owner string) error {
	has, err := st.Keys.HasKeys(ctx, owner)
	if err != nil {
		return err
	}
	if !has {
		return apierrors.ErrNoLinkedKeys
	}
	return apierrors.ErrNoActiveKey
}

// recordAudit writes an audit entry off the request path.
func (s *AuthService) recordAudit(event models.AuditEvent, account string, metadata map[string]any) {
	if s.audit == nil {
		return
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		raw = nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		entry := &models.AuditLog{Event: event, Account: account, Metadata: raw}
		if err := s.audit.Create(ctx, entry); err != nil {
			s.logger.Error("failed to record audit entry", "event", event, "error", err)
		}
	}()
}
