package crypto

import (
	stdecdsa "crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// mustKey generates a fresh public key on the given curve.
func mustKey(t *testing.T, alg Algorithm) PublicKey {
	t.Helper()
	switch alg {
	case AlgorithmSecp256k1:
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		return PublicKey{Algorithm: alg, Data: priv.PubKey().SerializeCompressed()}
	case AlgorithmNistP256:
		priv, err := stdecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		return PublicKey{Algorithm: alg, Data: elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)}
	}
	t.Fatalf("unknown algorithm %q", alg)
	return PublicKey{}
}

func TestRecoverSecp256k1(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := PublicKey{Algorithm: AlgorithmSecp256k1, Data: priv.PubKey().SerializeCompressed()}

	digest := Digest([]byte("alice"), pub.Data)
	sig := SignSecp256k1(priv, digest)

	recovered, err := sig.Recover(digest)
	require.NoError(t, err)
	assert.True(t, recovered.Equal(pub))
}

func TestRecoverNistP256(t *testing.T) {
	priv, err := stdecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pub := PublicKey{
		Algorithm: AlgorithmNistP256,
		Data:      elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y),
	}

	for i := 0; i < 8; i++ {
		digest := Digest([]byte("alice"), []byte{byte(i)})
		sig, err := SignNistP256(priv, digest)
		require.NoError(t, err)

		recovered, err := sig.Recover(digest)
		require.NoError(t, err)
		assert.True(t, recovered.Equal(pub), "iteration %d", i)
	}
}

func TestAssertRecover(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := PublicKey{Algorithm: AlgorithmSecp256k1, Data: priv.PubKey().SerializeCompressed()}

	digest := Digest([]byte("alice"), pub.Data)
	sig := SignSecp256k1(priv, digest)

	require.NoError(t, AssertRecover(digest, sig, pub))

	// Wrong expected key.
	other := mustKey(t, AlgorithmSecp256k1)
	assert.ErrorIs(t, AssertRecover(digest, sig, other), apierrors.ErrSignatureMismatch)

	// Wrong digest recovers a different key.
	assert.ErrorIs(t, AssertRecover(Digest([]byte("bob")), sig, pub), apierrors.ErrSignatureMismatch)

	// Curve family mismatch.
	p256 := mustKey(t, AlgorithmNistP256)
	assert.ErrorIs(t, AssertRecover(digest, sig, p256), apierrors.ErrSignatureMismatch)
}

func TestParsePublicKey(t *testing.T) {
	valid := mustKey(t, AlgorithmSecp256k1)

	parsed, err := ParsePublicKey(AlgorithmSecp256k1, valid.Data)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(valid))

	_, err = ParsePublicKey(AlgorithmSecp256k1, valid.Data[:32])
	assert.ErrorIs(t, err, apierrors.ErrMalformedKey)

	_, err = ParsePublicKey(Algorithm("ed25519"), valid.Data)
	assert.ErrorIs(t, err, apierrors.ErrMalformedKey)

	garbage := make([]byte, CompressedKeySize)
	_, err = ParsePublicKey(AlgorithmSecp256k1, garbage)
	assert.ErrorIs(t, err, apierrors.ErrMalformedKey)
}

func TestParseSignature(t *testing.T) {
	_, err := ParseSignature(AlgorithmSecp256k1, make([]byte, 64))
	assert.ErrorIs(t, err, apierrors.ErrMalformedSignature)

	sig, err := ParseSignature(AlgorithmSecp256k1, make([]byte, SignatureSize))
	require.NoError(t, err)

	// Zero R and S can never recover.
	_, err = sig.Recover(Digest([]byte("x")))
	assert.Error(t, err)
}

func TestParsePublicKeyHex(t *testing.T) {
	valid := mustKey(t, AlgorithmNistP256)

	parsed, err := ParsePublicKeyHex(AlgorithmNistP256, valid.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(valid))

	_, err = ParsePublicKeyHex(AlgorithmNistP256, "not-hex")
	assert.ErrorIs(t, err, apierrors.ErrMalformedKey)
}
