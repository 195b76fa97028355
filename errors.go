package provchain

import "errors"

// ErrKeyNotFound is returned by key load operations when the requested key
// file is absent. Read paths never generate keys implicitly.
var ErrKeyNotFound = errors.New("key not found")

// ErrSequenceViolation is returned by Store.Append when the entry index does
// not extend the chain by exactly one position.
var ErrSequenceViolation = errors.New("sequence violation")

// ErrLinkageViolation is returned by Store.Append when the entry's previous
// hash does not match the current chain head.
var ErrLinkageViolation = errors.New("linkage violation")

// ErrAppendConflict is returned by Builder.Ingest when the head moved between
// reading it and committing the new entry. The caller decides retry policy.
var ErrAppendConflict = errors.New("append conflict")

// ErrInvalidChain is returned by ImportSnapshot when the document fails the
// structural re-validation; nothing is committed in that case.
var ErrInvalidChain = errors.New("invalid chain")

// ErrNotFound is returned by Store.ReadAt for an index past the chain end.
var ErrNotFound = errors.New("entry not found")

// ErrArtifactMissing is returned when an artifact ref resolves to nothing.
var ErrArtifactMissing = errors.New("artifact missing")

// StorageError marks an I/O failure in the persistence layer. It is kept
// distinct from the tamper taxonomy: disk trouble is never reported as a
// verification finding.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
