package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// SignatureSize is the length of a recoverable compact signature:
// one recovery header byte followed by 32-byte R and S.
const SignatureSize = 65

// Signature is a recoverable compact signature tagged with its curve family.
// Layout: header || R || S, where header = 27 + recovery_id (+4 for a
// compressed recovered key).
type Signature struct {
	Algorithm Algorithm
	Data      []byte
}

// ParseSignature validates raw compact signature bytes.
func ParseSignature(algorithm Algorithm, data []byte) (Signature, error) {
	if !algorithm.Valid() {
		return Signature{}, apierrors.ErrMalformedSignature.WithMessage(fmt.Sprintf("unsupported algorithm %q", algorithm))
	}
	if len(data) != SignatureSize {
		return Signature{}, apierrors.ErrMalformedSignature.WithMessage(fmt.Sprintf("expected %d signature bytes, got %d", SignatureSize, len(data)))
	}

	sig := Signature{Algorithm: algorithm, Data: make([]byte, SignatureSize)}
	copy(sig.Data, data)
	return sig, nil
}

// ParseSignatureHex parses a hex-encoded compact signature.
func ParseSignatureHex(algorithm Algorithm, s string) (Signature, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return Signature{}, apierrors.ErrMalformedSignature.WithMessage("signature is not valid hex")
	}
	return ParseSignature(algorithm, data)
}

// Recover recovers the signing public key implied by (digest, signature).
// The recovered key is the claimed signer identity; the caller must
// separately establish that this identity is entitled to act.
func (s Signature) Recover(digest []byte) (PublicKey, error) {
	switch s.Algorithm {
	case AlgorithmSecp256k1:
		pub, _, err := btcecdsa.RecoverCompact(s.Data, digest)
		if err != nil {
			return PublicKey{}, apierrors.ErrMalformedSignature
		}
		return PublicKey{Algorithm: AlgorithmSecp256k1, Data: pub.SerializeCompressed()}, nil
	case AlgorithmNistP256:
		return recoverP256(digest, s.Data)
	default:
		return PublicKey{}, apierrors.ErrMalformedSignature.WithMessage(fmt.Sprintf("unsupported algorithm %q", s.Algorithm))
	}
}

// AssertRecover recovers the signer from (digest, signature) and fails with
// a signature mismatch unless it equals the expected key.
func AssertRecover(digest []byte, sig Signature, expected PublicKey) error {
	if sig.Algorithm != expected.Algorithm {
		return apierrors.ErrSignatureMismatch
	}

	recovered, err := sig.Recover(digest)
	if err != nil {
		return err
	}
	if !recovered.Equal(expected) {
		return apierrors.ErrSignatureMismatch
	}
	return nil
}

// SignSecp256k1 produces a recoverable signature over digest. Used by tests
// and client tooling; the service itself only ever recovers.
func SignSecp256k1(priv *btcec.PrivateKey, digest []byte) Signature {
	data := btcecdsa.SignCompact(priv, digest, true)
	return Signature{Algorithm: AlgorithmSecp256k1, Data: data}
}

// SignNistP256 produces a recoverable signature over digest with a P-256 key.
func SignNistP256(priv *ecdsa.PrivateKey, digest []byte) (Signature, error) {
	data, err := signP256(priv, digest)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Algorithm: AlgorithmNistP256, Data: data}, nil
}
