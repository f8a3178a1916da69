// Package handler provides HTTP handlers for the protocol API.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/authrelay/authrelay/internal/crypto"
	"github.com/authrelay/authrelay/internal/models"
	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
	"github.com/authrelay/authrelay/internal/pkg/response"
	"github.com/authrelay/authrelay/internal/service"
)

// AuthService is the protocol surface the handler dispatches to.
type AuthService interface {
	RegisterByOwner(ctx context.Context, p service.RegisterOwnedKeyParams) (*models.ApplicationKey, error)
	RegisterByExistingKey(ctx context.Context, p service.RegisterLinkedKeyParams) (*models.ApplicationKey, error)
	ReplaceKey(ctx context.Context, p service.ReplaceKeyParams) (*models.ApplicationKey, error)
	RevokeByOwner(ctx context.Context, owner string, pub crypto.PublicKey) error
	RevokeByExistingKey(ctx context.Context, owner string, revokedKey, authorizingKey crypto.PublicKey, sig crypto.Signature) error
	RelayAction(ctx context.Context, p service.RelayParams) error
	Transfer(ctx context.Context, p service.TransferParams) error
	PurchaseCredit(ctx context.Context, account string, quantity models.Asset, maxPrice float64) error
	Cleanup(ctx context.Context) (*service.CleanupResult, error)
}

// AuthHandler handles protocol HTTP requests.
type AuthHandler struct {
	svc      AuthService
	validate *validator.Validate
}

// NewAuthHandler creates a new protocol handler.
func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{
		svc:      svc,
		validate: validator.New(),
	}
}

// Routes returns a chi router with all protocol routes.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/keys", func(r chi.Router) {
		r.Post("/", h.RegisterByOwner)
		r.Post("/by-key", h.RegisterByExistingKey)
		r.Post("/replace", h.ReplaceKey)
		r.Post("/revoke", h.RevokeByOwner)
		r.Post("/revoke/by-key", h.RevokeByExistingKey)
	})
	r.Post("/relay", h.RelayAction)
	r.Post("/transfer", h.Transfer)
	r.Post("/credits/purchase", h.PurchaseCredit)
	r.Post("/cleanup", h.Cleanup)

	return r
}

// signedKey is a tagged public key plus the signature it produced.
type signedKey struct {
	Algorithm string `json:"algorithm" validate:"required,oneof=secp256k1 nistp256"`
	Key       string `json:"key" validate:"required,hexadecimal"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

func (p signedKey) parse() (crypto.PublicKey, crypto.Signature, error) {
	alg := crypto.Algorithm(p.Algorithm)
	pub, err := crypto.ParsePublicKeyHex(alg, p.Key)
	if err != nil {
		return crypto.PublicKey{}, crypto.Signature{}, err
	}
	sig, err := crypto.ParseSignatureHex(alg, p.Signature)
	if err != nil {
		return crypto.PublicKey{}, crypto.Signature{}, err
	}
	return pub, sig, nil
}

// keyResponse is the external view of an application-key record.
type keyResponse struct {
	ID             int64     `json:"id"`
	Owner          string    `json:"owner"`
	Algorithm      string    `json:"algorithm"`
	PublicKey      string    `json:"public_key"`
	NotValidBefore time.Time `json:"not_valid_before"`
	NotValidAfter  time.Time `json:"not_valid_after"`
	State          string    `json:"state"`
}

func toKeyResponse(key *models.ApplicationKey) keyResponse {
	pub := crypto.PublicKey{Algorithm: crypto.Algorithm(key.Algorithm), Data: key.PublicKey}
	return keyResponse{
		ID:             key.ID,
		Owner:          key.Owner,
		Algorithm:      key.Algorithm,
		PublicKey:      pub.String(),
		NotValidBefore: key.NotValidBefore,
		NotValidAfter:  key.NotValidAfter,
		State:          key.State(time.Now().UTC()).String(),
	}
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			response.ValidationError(w, errs[0].Field(), errs[0].Tag())
			return false
		}
		response.Error(w, apierrors.ErrBadRequest)
		return false
	}
	return true
}

// RegisterKeyRequest is the HTTP request body for owner-authorized
// registration.
type RegisterKeyRequest struct {
	Owner    string    `json:"owner" validate:"required"`
	Key      signedKey `json:"key" validate:"required"`
	Payer    string    `json:"payer,omitempty"`
	MaxPrice string    `json:"max_price" validate:"required"`
}

// RegisterByOwner handles POST /v1/keys
func (h *AuthHandler) RegisterByOwner(w http.ResponseWriter, r *http.Request) {
	var req RegisterKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	pub, sig, err := req.Key.parse()
	if err != nil {
		response.Error(w, err)
		return
	}
	maxPrice, err := models.ParseAsset(req.MaxPrice)
	if err != nil {
		response.Error(w, err)
		return
	}

	key, err := h.svc.RegisterByOwner(r.Context(), service.RegisterOwnedKeyParams{
		Owner:     req.Owner,
		Key:       pub,
		Signature: sig,
		Payer:     req.Payer,
		MaxPrice:  maxPrice,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, toKeyResponse(key))
}

// RegisterLinkedKeyRequest is the HTTP request body for key-holder
// authorized registration.
type RegisterLinkedKeyRequest struct {
	Owner       string    `json:"owner" validate:"required"`
	Key         signedKey `json:"key" validate:"required"`
	ExistingKey signedKey `json:"existing_key" validate:"required"`
	Payer       string    `json:"payer,omitempty"`
	MaxPrice    string    `json:"max_price" validate:"required"`
}

// RegisterByExistingKey handles POST /v1/keys/by-key
func (h *AuthHandler) RegisterByExistingKey(w http.ResponseWriter, r *http.Request) {
	var req RegisterLinkedKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	newPub, newSig, err := req.Key.parse()
	if err != nil {
		response.Error(w, err)
		return
	}
	existingPub, existingSig, err := req.ExistingKey.parse()
	if err != nil {
		response.Error(w, err)
		return
	}
	maxPrice, err := models.ParseAsset(req.MaxPrice)
	if err != nil {
		response.Error(w, err)
		return
	}

	key, err := h.svc.RegisterByExistingKey(r.Context(), service.RegisterLinkedKeyParams{
		Owner:             req.Owner,
		NewKey:            newPub,
		NewSignature:      newSig,
		ExistingKey:       existingPub,
		ExistingSignature: existingSig,
		Payer:             req.Payer,
		MaxPrice:          maxPrice,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, toKeyResponse(key))
}

// ReplaceKey handles POST /v1/keys/replace
func (h *AuthHandler) ReplaceKey(w http.ResponseWriter, r *http.Request) {
	var req RegisterLinkedKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	newPub, newSig, err := req.Key.parse()
	if err != nil {
		response.Error(w, err)
		return
	}
	oldPub, oldSig, err := req.ExistingKey.parse()
	if err != nil {
		response.Error(w, err)
		return
	}
	maxPrice, err := models.ParseAsset(req.MaxPrice)
	if err != nil {
		response.Error(w, err)
		return
	}

	key, err := h.svc.ReplaceKey(r.Context(), service.ReplaceKeyParams{
		Owner:        req.Owner,
		NewKey:       newPub,
		NewSignature: newSig,
		OldKey:       oldPub,
		OldSignature: oldSig,
		Payer:        req.Payer,
		MaxPrice:     maxPrice,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Created(w, toKeyResponse(key))
}

// RevokeKeyRequest is the HTTP request body for owner-authorized revocation.
type RevokeKeyRequest struct {
	Owner     string `json:"owner" validate:"required"`
	Algorithm string `json:"algorithm" validate:"required,oneof=secp256k1 nistp256"`
	Key       string `json:"key" validate:"required,hexadecimal"`
}

// RevokeByOwner handles POST /v1/keys/revoke
func (h *AuthHandler) RevokeByOwner(w http.ResponseWriter, r *http.Request) {
	var req RevokeKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	pub, err := crypto.ParsePublicKeyHex(crypto.Algorithm(req.Algorithm), req.Key)
	if err != nil {
		response.Error(w, err)
		return
	}

	if err := h.svc.RevokeByOwner(r.Context(), req.Owner, pub); err != nil {
		response.Error(w, err)
		return
	}

	response.NoContent(w)
}

// RevokeLinkedKeyRequest is the HTTP request body for key-holder authorized
// revocation. The authorizing key signs the revocation digest.
type RevokeLinkedKeyRequest struct {
	Owner          string    `json:"owner" validate:"required"`
	Algorithm      string    `json:"algorithm" validate:"required,oneof=secp256k1 nistp256"`
	Key            string    `json:"key" validate:"required,hexadecimal"`
	AuthorizingKey signedKey `json:"authorizing_key" validate:"required"`
}

// RevokeByExistingKey handles POST /v1/keys/revoke/by-key
func (h *AuthHandler) RevokeByExistingKey(w http.ResponseWriter, r *http.Request) {
	var req RevokeLinkedKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	revoked, err := crypto.ParsePublicKeyHex(crypto.Algorithm(req.Algorithm), req.Key)
	if err != nil {
		response.Error(w, err)
		return
	}
	authorizing, sig, err := req.AuthorizingKey.parse()
	if err != nil {
		response.Error(w, err)
		return
	}

	if err := h.svc.RevokeByExistingKey(r.Context(), req.Owner, revoked, authorizing, sig); err != nil {
		response.Error(w, err)
		return
	}

	response.NoContent(w)
}

// RelayRequest is the HTTP request body for signed action relay. The action
// data travels base64-encoded; the timestamp is Unix seconds and is part of
// the signing digest.
type RelayRequest struct {
	Account string `json:"account" validate:"required"`
	Action  struct {
		Contract      string `json:"contract" validate:"required"`
		Name          string `json:"name" validate:"required"`
		Authorization []struct {
			Actor      string `json:"actor" validate:"required"`
			Permission string `json:"permission" validate:"required"`
		} `json:"authorization" validate:"required,dive"`
		Data string `json:"data,omitempty"`
	} `json:"action" validate:"required"`
	Timestamp int64     `json:"timestamp" validate:"required"`
	Key       signedKey `json:"key" validate:"required"`
}

// RelayAction handles POST /v1/relay
func (h *AuthHandler) RelayAction(w http.ResponseWriter, r *http.Request) {
	var req RelayRequest
	if !h.decode(w, r, &req) {
		return
	}

	pub, sig, err := req.Key.parse()
	if err != nil {
		response.Error(w, err)
		return
	}

	var data []byte
	if req.Action.Data != "" {
		data, err = base64.StdEncoding.DecodeString(req.Action.Data)
		if err != nil {
			response.Error(w, apierrors.ErrBadRequest.WithMessage("action data is not valid base64"))
			return
		}
	}

	action := models.Action{
		Contract: req.Action.Contract,
		Name:     req.Action.Name,
		Data:     data,
	}
	for _, a := range req.Action.Authorization {
		action.Authorization = append(action.Authorization, models.PermissionLevel{
			Actor:      a.Actor,
			Permission: a.Permission,
		})
	}

	err = h.svc.RelayAction(r.Context(), service.RelayParams{
		Account:    req.Account,
		Action:     action,
		ActionTime: time.Unix(req.Timestamp, 0).UTC(),
		Key:        pub,
		Signature:  sig,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]string{"status": "relayed"})
}

// TransferRequest is the HTTP request body for an application-key
// authorized transfer.
type TransferRequest struct {
	From     string    `json:"from" validate:"required"`
	To       string    `json:"to" validate:"required"`
	Quantity string    `json:"quantity" validate:"required"`
	Memo     string    `json:"memo,omitempty"`
	Key      signedKey `json:"key" validate:"required"`
}

// Transfer handles POST /v1/transfer
func (h *AuthHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	pub, sig, err := req.Key.parse()
	if err != nil {
		response.Error(w, err)
		return
	}
	quantity, err := models.ParseAsset(req.Quantity)
	if err != nil {
		response.Error(w, err)
		return
	}

	err = h.svc.Transfer(r.Context(), service.TransferParams{
		From:      req.From,
		To:        req.To,
		Quantity:  quantity,
		Memo:      req.Memo,
		Key:       pub,
		Signature: sig,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]string{"status": "transferred"})
}

// PurchaseCreditRequest is the HTTP request body for buying application
// credit. MaxPrice is the highest acceptable oracle price.
type PurchaseCreditRequest struct {
	Account  string  `json:"account" validate:"required"`
	Quantity string  `json:"quantity" validate:"required"`
	MaxPrice float64 `json:"max_price" validate:"required,gt=0"`
}

// PurchaseCredit handles POST /v1/credits/purchase
func (h *AuthHandler) PurchaseCredit(w http.ResponseWriter, r *http.Request) {
	var req PurchaseCreditRequest
	if !h.decode(w, r, &req) {
		return
	}

	quantity, err := models.ParseAsset(req.Quantity)
	if err != nil {
		response.Error(w, err)
		return
	}

	if err := h.svc.PurchaseCredit(r.Context(), req.Account, quantity, req.MaxPrice); err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]string{"status": "purchased"})
}

// Cleanup handles POST /v1/cleanup
func (h *AuthHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Cleanup(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, result)
}
