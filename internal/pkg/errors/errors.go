// Package errors provides standardized protocol and API error types.
package errors

import (
	"fmt"
	"net/http"
)

// APIError represents a standardized error response. Protocol actions fail
// with one of the sentinel values below; every failure aborts the whole
// enclosing action.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// Is reports whether target carries the same error code, so errors.Is works
// against the sentinels even when a copy with a custom message was returned.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// Authorization errors.
var (
	// ErrUnauthorized is returned when native ledger authority is required
	// but missing.
	ErrUnauthorized = &APIError{
		Code:       "unauthorized",
		Message:    "missing native authority",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrKeyOwnerMismatch is returned when a key exists but belongs to a
	// different account than the one named in the request.
	ErrKeyOwnerMismatch = &APIError{
		Code:       "key_owner_mismatch",
		Message:    "owner of the key does not match the account",
		StatusCode: http.StatusForbidden,
	}
)

// Protocol-signature errors.
var (
	// ErrSignatureMismatch is returned when the key recovered from
	// (digest, signature) differs from the expected key.
	ErrSignatureMismatch = &APIError{
		Code:       "signature_mismatch",
		Message:    "expected key different than recovered application key",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrMalformedKey is returned when public key bytes do not decode to a
	// valid curve point.
	ErrMalformedKey = &APIError{
		Code:       "malformed_key",
		Message:    "malformed public key",
		StatusCode: http.StatusBadRequest,
	}

	// ErrMalformedSignature is returned when signature bytes are not a valid
	// recoverable signature.
	ErrMalformedSignature = &APIError{
		Code:       "malformed_signature",
		Message:    "malformed signature",
		StatusCode: http.StatusBadRequest,
	}
)

// State errors.
var (
	// ErrNoLinkedKeys is returned when the account never registered any
	// application key.
	ErrNoLinkedKeys = &APIError{
		Code:       "no_linked_application_keys",
		Message:    "account has no linked application keys",
		StatusCode: http.StatusNotFound,
	}

	// ErrNoActiveKey is returned when no currently valid, unrevoked key
	// matches the lookup.
	ErrNoActiveKey = &APIError{
		Code:       "no_active_application_key",
		Message:    "account has no active application keys",
		StatusCode: http.StatusNotFound,
	}

	// ErrAlreadyRevoked is returned on a second revocation of the same record.
	ErrAlreadyRevoked = &APIError{
		Code:       "already_revoked",
		Message:    "application key is already revoked",
		StatusCode: http.StatusConflict,
	}

	// ErrAlreadyExecuted is the replay-protection failure.
	ErrAlreadyExecuted = &APIError{
		Code:       "already_executed",
		Message:    "the action has already been executed",
		StatusCode: http.StatusConflict,
	}

	// ErrKeyAlreadyRegistered is returned while an active record exists for
	// the exact same (owner, key) pair; the prior record must be revoked or
	// expire before the key can be registered again.
	ErrKeyAlreadyRegistered = &APIError{
		Code:       "key_already_registered",
		Message:    "an active record already exists for this key",
		StatusCode: http.StatusConflict,
	}

	// ErrKeyExpired is returned when a key's validity window has passed.
	ErrKeyExpired = &APIError{
		Code:       "key_expired",
		Message:    "key expired",
		StatusCode: http.StatusConflict,
	}
)

// Economic errors.
var (
	// ErrPriceAboveLimit is returned when the live price exceeds the caller's
	// declared ceiling.
	ErrPriceAboveLimit = &APIError{
		Code:       "price_above_limit",
		Message:    "current price is above the declared price limit",
		StatusCode: http.StatusUnprocessableEntity,
	}

	// ErrPriceUnavailable is returned when the oracle does not list the pair.
	ErrPriceUnavailable = &APIError{
		Code:       "price_unavailable",
		Message:    "pair does not exist",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrInvalidPrice is returned when the oracle price yields a non-positive
	// unit price.
	ErrInvalidPrice = &APIError{
		Code:       "invalid_price",
		Message:    "invalid oracle price",
		StatusCode: http.StatusUnprocessableEntity,
	}

	// ErrAttributeValue is returned when a present discount attribute lies
	// outside [0, 1].
	ErrAttributeValue = &APIError{
		Code:       "attribute_value_error",
		Message:    "attribute value error",
		StatusCode: http.StatusUnprocessableEntity,
	}

	// ErrOverdrawnBalance is returned when a debit exceeds the available
	// balance or supply.
	ErrOverdrawnBalance = &APIError{
		Code:       "overdrawn_balance",
		Message:    "overdrawn balance",
		StatusCode: http.StatusUnprocessableEntity,
	}

	// ErrUnavailablePayment is returned when the price ceiling is denominated
	// in an asset that is neither the native nor the credit asset.
	ErrUnavailablePayment = &APIError{
		Code:       "unavailable_payment_method",
		Message:    "unavailable payment method",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidAsset is returned for malformed or non-positive quantities.
	ErrInvalidAsset = &APIError{
		Code:       "invalid_asset",
		Message:    "invalid asset quantity",
		StatusCode: http.StatusBadRequest,
	}
)

// Freshness errors.
var (
	// ErrTimestampExpired is returned when a relayed action's timestamp falls
	// outside the freshness window.
	ErrTimestampExpired = &APIError{
		Code:       "timestamp_expired",
		Message:    "action timestamp expired",
		StatusCode: http.StatusUnprocessableEntity,
	}
)

// Transport-level errors.
var (
	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// AsAPIError converts an error to an APIError if possible.
// Returns ErrInternal if the error is not an APIError.
func AsAPIError(err error) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return ErrInternal
}
