package provchain

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BuilderConfig controls optional builder behavior.
type BuilderConfig struct {
	// Notifier receives a chain_head event after every successful append.
	Notifier Notifier
	// Clock overrides the timestamp source (for tests). Defaults to time.Now.
	Clock func() time.Time
}

// Builder assembles, signs and commits new chain entries. There must be at
// most one Builder appending to a store at any time; the builder serializes
// its own callers but does not coordinate across processes.
type Builder struct {
	store     Store
	artifacts ArtifactStore
	priv      ed25519.PrivateKey
	cfg       BuilderConfig

	mu sync.Mutex
}

// NewBuilder creates a builder bound to a store, an artifact store and the
// chain signing key.
func NewBuilder(st Store, artifacts ArtifactStore, priv ed25519.PrivateKey, cfg BuilderConfig) (*Builder, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length: %d", len(priv))
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Builder{store: st, artifacts: artifacts, priv: priv, cfg: cfg}, nil
}

// Ingest stores the artifact bytes under ref, assembles the next entry
// referencing the current head, signs it and commits it. It returns the
// committed entry.
//
// If the store rejects the append because the head moved underneath us, the
// operation fails with ErrAppendConflict and is not retried; the caller
// decides whether to re-attempt with a fresh head.
func (b *Builder) Ingest(artifact []byte, ref string) (ChainEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.artifacts.Put(ref, artifact); err != nil {
		return ChainEntry{}, err
	}

	length, err := b.store.Len()
	if err != nil {
		return ChainEntry{}, err
	}
	prev := ZeroHash
	if head, ok, err := b.store.Head(); err != nil {
		return ChainEntry{}, err
	} else if ok {
		prev = head.EntryHash
	}

	e := ChainEntry{
		Index:        length,
		Timestamp:    b.cfg.Clock().UTC().Format(time.RFC3339Nano),
		ArtifactRef:  ref,
		ArtifactHash: HashBytes(artifact),
		PreviousHash: prev,
	}
	e.Seal(b.priv)

	if err := b.store.Append(e); err != nil {
		if errors.Is(err, ErrSequenceViolation) || errors.Is(err, ErrLinkageViolation) {
			return ChainEntry{}, fmt.Errorf("%w: %v", ErrAppendConflict, err)
		}
		return ChainEntry{}, err
	}

	if b.cfg.Notifier != nil {
		b.cfg.Notifier.ChainHead(HeadEvent{
			Type:        EventChainHead,
			Index:       e.Index,
			Timestamp:   e.Timestamp,
			ArtifactRef: e.ArtifactRef,
			EntryHash:   e.EntryHash,
		})
	}
	return e, nil
}
