package provchain

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot document version.
const SnapshotVersion = 1

// Snapshot is the portable export form of a chain: a plain JSON document
// usable for backup and for moving a chain between stores. It carries entry
// records only, never artifact bytes or key material.
type Snapshot struct {
	Version    int          `json:"version"`
	ExportedAt string       `json:"exported_at"`
	Entries    []ChainEntry `json:"entries"`
}

// ExportSnapshot serializes the entire chain as a snapshot document.
func ExportSnapshot(st Store) ([]byte, error) {
	entries, err := st.ReadAll()
	if err != nil {
		return nil, err
	}
	s := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Entries:    entries,
	}
	return json.MarshalIndent(s, "", "  ")
}

// ImportSnapshot loads a snapshot document into an empty store. The chain is
// re-validated in full before anything is committed: index continuity,
// linkage, entry hashes and signatures. A document that fails any invariant
// is rejected with ErrInvalidChain and the store is left untouched.
//
// Artifact-content integrity is not checked here — a snapshot carries refs,
// not bytes; run Verify after importing once the artifacts are in place.
func ImportSnapshot(st Store, pub ed25519.PublicKey, data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", ErrInvalidChain, s.Version)
	}
	if err := ValidateChain(s.Entries, pub); err != nil {
		return err
	}

	length, err := st.Len()
	if err != nil {
		return err
	}
	if length != 0 {
		return fmt.Errorf("import into non-empty store: %d entries present", length)
	}
	for _, e := range s.Entries {
		if err := st.Append(e); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChain replays the structural invariants of an in-memory chain:
// gapless zero-based indices, hash linkage from the zero sentinel, a valid
// signature and entry hash per entry.
func ValidateChain(entries []ChainEntry, pub ed25519.PublicKey) error {
	prev := ZeroHash
	for i, e := range entries {
		if e.Index != uint64(i) {
			return fmt.Errorf("%w: entry at position %d carries index %d", ErrInvalidChain, i, e.Index)
		}
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d links %s, want %s", ErrInvalidChain, i, shortHash(e.PreviousHash), shortHash(prev))
		}
		payload := e.CanonicalEncoding()
		if !VerifySignature(pub, payload, e.Signature) {
			return fmt.Errorf("%w: entry %d signature invalid", ErrInvalidChain, i)
		}
		if !hashEqual(HashBytes(payload), e.EntryHash) {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrInvalidChain, i)
		}
		prev = e.EntryHash
	}
	return nil
}
