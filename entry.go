package provchain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
)

// canonicalPrefix domain-separates chain payloads from any other ed25519
// signatures produced on the same host. It is part of the wire contract and
// must never change within a chain version.
const canonicalPrefix = "provchain.entry.v1\n"

// ZeroHash is the previous-hash sentinel carried by the genesis entry.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashHexLen is the length of a hex-encoded SHA-256 digest.
const HashHexLen = 64

// ChainEntry is the atomic unit of the provenance log. The JSON tags define
// both the persisted column names and the snapshot/export format.
type ChainEntry struct {
	Index        uint64 `json:"index"`
	Timestamp    string `json:"timestamp"`
	ArtifactRef  string `json:"artifact_ref"`
	ArtifactHash string `json:"artifact_hash"`
	PreviousHash string `json:"previous_hash"`
	Signature    string `json:"signature"`
	EntryHash    string `json:"entry_hash"`
}

// signedFields is the exact signable subset of an entry, in canonical order.
// encoding/json emits struct fields in declaration order, so marshaling this
// struct yields one deterministic byte form for identical field values.
// Signature and entry hash are derived from this encoding and are therefore
// excluded from it.
type signedFields struct {
	Index        uint64 `json:"index"`
	Timestamp    string `json:"timestamp"`
	ArtifactRef  string `json:"artifact_ref"`
	ArtifactHash string `json:"artifact_hash"`
	PreviousHash string `json:"previous_hash"`
}

// CanonicalEncoding returns the byte-exact payload that is signed and hashed.
func (e ChainEntry) CanonicalEncoding() []byte {
	body, _ := json.Marshal(signedFields{
		Index:        e.Index,
		Timestamp:    e.Timestamp,
		ArtifactRef:  e.ArtifactRef,
		ArtifactHash: e.ArtifactHash,
		PreviousHash: e.PreviousHash,
	})
	return append([]byte(canonicalPrefix), body...)
}

// Seal computes the derived fields of an assembled entry: the ed25519
// signature over the canonical encoding and the entry hash of that same
// encoding.
func (e *ChainEntry) Seal(priv ed25519.PrivateKey) {
	payload := e.CanonicalEncoding()
	e.Signature = Sign(priv, payload)
	e.EntryHash = HashBytes(payload)
}

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign signs a canonical payload and returns the hex-encoded signature.
func Sign(priv ed25519.PrivateKey, payload []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, payload))
}

// VerifySignature checks a hex-encoded ed25519 signature over payload.
func VerifySignature(pub ed25519.PublicKey, payload []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// hashEqual compares two hex digests in constant time.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
