// Package crypto implements the signing protocol: canonical digests over
// action fields, tagged compressed public keys, and recoverable signatures
// on two curve families.
package crypto

import (
	"bytes"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// Algorithm represents a cryptographic algorithm.
type Algorithm string

const (
	AlgorithmSecp256k1 Algorithm = "secp256k1"
	AlgorithmNistP256  Algorithm = "nistp256"
)

// Valid returns true if the algorithm is supported.
func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmSecp256k1, AlgorithmNistP256:
		return true
	default:
		return false
	}
}

// String returns the string representation
func (a Algorithm) String() string {
	return string(a)
}

// CompressedKeySize is the length of a compressed curve point on either
// supported curve.
const CompressedKeySize = 33

// PublicKey is a compressed curve point tagged with its curve family. The
// raw point bytes, without the tag, are the key's canonical digest field.
type PublicKey struct {
	Algorithm Algorithm
	Data      []byte
}

// ParsePublicKey validates raw compressed point bytes against the named
// curve and returns the tagged key.
func ParsePublicKey(algorithm Algorithm, data []byte) (PublicKey, error) {
	if !algorithm.Valid() {
		return PublicKey{}, apierrors.ErrMalformedKey.WithMessage(fmt.Sprintf("unsupported algorithm %q", algorithm))
	}
	if len(data) != CompressedKeySize {
		return PublicKey{}, apierrors.ErrMalformedKey.WithMessage(fmt.Sprintf("expected %d key bytes, got %d", CompressedKeySize, len(data)))
	}

	switch algorithm {
	case AlgorithmSecp256k1:
		if _, err := btcec.ParsePubKey(data); err != nil {
			return PublicKey{}, apierrors.ErrMalformedKey
		}
	case AlgorithmNistP256:
		x, _ := elliptic.UnmarshalCompressed(elliptic.P256(), data)
		if x == nil {
			return PublicKey{}, apierrors.ErrMalformedKey
		}
	}

	key := PublicKey{Algorithm: algorithm, Data: make([]byte, CompressedKeySize)}
	copy(key.Data, data)
	return key, nil
}

// ParsePublicKeyHex parses a hex-encoded compressed point.
func ParsePublicKeyHex(algorithm Algorithm, s string) (PublicKey, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, apierrors.ErrMalformedKey.WithMessage("public key is not valid hex")
	}
	return ParsePublicKey(algorithm, data)
}

// Equal reports whether two keys share the same curve and point.
func (k PublicKey) Equal(other PublicKey) bool {
	return k.Algorithm == other.Algorithm && bytes.Equal(k.Data, other.Data)
}

// Fingerprint returns the SHA-256 of the compressed point bytes.
func (k PublicKey) Fingerprint() []byte {
	sum := sha256.Sum256(k.Data)
	return sum[:]
}

// String renders the key as hex.
func (k PublicKey) String() string {
	return hex.EncodeToString(k.Data)
}
