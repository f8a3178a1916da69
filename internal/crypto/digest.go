package crypto

import (
	"crypto/sha256"
	"strconv"
	"time"
)

// FieldDelimiter separates digest fields. It is inserted between fields,
// never after the last one.
const FieldDelimiter = "*"

// Digest hashes the delimited concatenation of fields with SHA-256. Every
// signature in the protocol is made over a digest built here; clients must
// reproduce the same field forms bit-for-bit since the digest itself is
// never transmitted.
func Digest(fields ...[]byte) []byte {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte(FieldDelimiter))
		}
		h.Write(f)
	}
	return h.Sum(nil)
}

// RegisterOwnedKeyDigest binds an owner-authorized registration: the owner
// account, the new key's point bytes, and the payer. The payer field is
// empty when the owner pays for itself.
func RegisterOwnedKeyDigest(owner string, key PublicKey, payer string) []byte {
	return Digest([]byte(owner), key.Data, []byte(payer))
}

// RegisterLinkedKeyDigest binds a key-holder-authorized registration: owner,
// the new key, the already-registered key that co-signs, and the payer.
func RegisterLinkedKeyDigest(owner string, newKey PublicKey, existingKey PublicKey, payer string) []byte {
	return Digest([]byte(owner), newKey.Data, existingKey.Data, []byte(payer))
}

// RevokeLinkedKeyDigest binds a key-holder-authorized revocation: owner, the
// key being revoked, and the active key authorizing the revocation.
func RevokeLinkedKeyDigest(owner string, revokedKey, authorizingKey PublicKey) []byte {
	return Digest([]byte(owner), revokedKey.Data, authorizingKey.Data)
}

// TransferDigest binds an application-key-authorized transfer. The quantity
// travels in its canonical string form, e.g. "500.0000 REM".
func TransferDigest(from, to, quantity, memo string, key PublicKey) []byte {
	return Digest([]byte(from), []byte(to), []byte(quantity), []byte(memo), key.Data)
}

// RelayDigest binds a relayed action to its account, packed payload,
// timestamp, and authorizing key. It doubles as the replay-protection
// fingerprint.
func RelayDigest(account string, packedAction []byte, actionTime time.Time, key PublicKey) []byte {
	ts := strconv.FormatInt(actionTime.Unix(), 10)
	return Digest([]byte(account), packedAction, []byte(ts), key.Data)
}
