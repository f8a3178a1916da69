package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestDelimiterBetweenFields(t *testing.T) {
	// sha256("a*b*c") — delimiter between fields, none trailing.
	want, err := hex.DecodeString("dc2d556bdd581b391a4da6b794aeb1061dcfa6d15d8367543f89c72a0d624436")
	require.NoError(t, err)

	got := Digest([]byte("a"), []byte("b"), []byte("c"))
	assert.Equal(t, want, got)
}

func TestDigestDeterministic(t *testing.T) {
	fields := [][]byte{[]byte("alice"), {0x02, 0xff}, []byte("")}

	first := Digest(fields...)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Digest(fields...))
	}
}

func TestDigestFieldBoundaries(t *testing.T) {
	// Shifting bytes across a field boundary must change the hash.
	assert.NotEqual(t, Digest([]byte("ab"), []byte("c")), Digest([]byte("a"), []byte("bc")))
	// Empty fields still contribute their delimiter.
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("a"), []byte("")))
}

func TestRegistrationDigestShape(t *testing.T) {
	// The registration digests carry exactly the documented fields: clients
	// reproduce them byte for byte, so the layout is a wire contract.
	key := mustKey(t, AlgorithmSecp256k1)
	other := mustKey(t, AlgorithmSecp256k1)

	var owned []byte
	owned = append(owned, "alice*"...)
	owned = append(owned, key.Data...)
	owned = append(owned, "*bob"...)
	raw := sha256.Sum256(owned)
	assert.Equal(t, raw[:], RegisterOwnedKeyDigest("alice", key, "bob"))

	var linked []byte
	linked = append(linked, "alice*"...)
	linked = append(linked, key.Data...)
	linked = append(linked, '*')
	linked = append(linked, other.Data...)
	linked = append(linked, '*')
	raw = sha256.Sum256(linked)
	assert.Equal(t, raw[:], RegisterLinkedKeyDigest("alice", key, other, ""))
}

func TestActionDigestsDiffer(t *testing.T) {
	key := mustKey(t, AlgorithmSecp256k1)
	other := mustKey(t, AlgorithmSecp256k1)

	d1 := RegisterOwnedKeyDigest("alice", key, "")
	d2 := RegisterOwnedKeyDigest("alice", key, "bob")
	assert.NotEqual(t, d1, d2)

	d3 := RegisterOwnedKeyDigest("alice", other, "")
	assert.NotEqual(t, d1, d3)

	assert.NotEqual(t,
		RevokeLinkedKeyDigest("alice", key, other),
		RevokeLinkedKeyDigest("alice", other, key),
	)
}

func TestRelayDigestTimestampSeconds(t *testing.T) {
	key := mustKey(t, AlgorithmSecp256k1)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d1 := RelayDigest("alice", []byte{0x01}, at, key)
	d2 := RelayDigest("alice", []byte{0x01}, at.Add(500*time.Millisecond), key)
	d3 := RelayDigest("alice", []byte{0x01}, at.Add(time.Second), key)

	// Sub-second precision is not part of the digest domain.
	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
}
