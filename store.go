package provchain

import "fmt"

// Store is durable, append-only persistence for chain entries.
//
// Append must be atomic with respect to process crash: a partially written
// entry is never visible to subsequent reads. Readers running concurrently
// with an append observe either the pre-append or the post-append state.
// Entries are never mutated or removed once committed.
type Store interface {
	// Append commits the next entry. It fails with ErrSequenceViolation if
	// the entry index does not equal the current length, and with
	// ErrLinkageViolation if the previous hash does not match the head.
	Append(e ChainEntry) error

	// Len returns the number of committed entries.
	Len() (uint64, error)

	// Head returns the most recently committed entry, or ok=false when the
	// chain is empty.
	Head() (ChainEntry, bool, error)

	// ReadAll returns every committed entry in index order.
	ReadAll() ([]ChainEntry, error)

	// ReadRange returns entries with index in the half-open range [from, to).
	ReadRange(from, to uint64) ([]ChainEntry, error)

	// ReadAt returns the entry at index, or ErrNotFound.
	ReadAt(index uint64) (ChainEntry, error)

	Close() error
}

// validateAppend enforces the append preconditions shared by every backend.
// head is nil when the chain is empty.
func validateAppend(length uint64, head *ChainEntry, e ChainEntry) error {
	if e.Index != length {
		return fmt.Errorf("%w: have %d entries, entry carries index %d", ErrSequenceViolation, length, e.Index)
	}
	want := ZeroHash
	if head != nil {
		want = head.EntryHash
	}
	if e.PreviousHash != want {
		return fmt.Errorf("%w: head is %s, entry links %s", ErrLinkageViolation, shortHash(want), shortHash(e.PreviousHash))
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
