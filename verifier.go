package provchain

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
)

// Reason identifies the first check that failed during verification.
type Reason string

const (
	ReasonIndexMismatch        Reason = "IndexMismatch"
	ReasonLinkageMismatch      Reason = "LinkageMismatch"
	ReasonArtifactMissing      Reason = "ArtifactMissing"
	ReasonArtifactHashMismatch Reason = "ArtifactHashMismatch"
	ReasonSignatureInvalid     Reason = "SignatureInvalid"
	ReasonEntryHashMismatch    Reason = "EntryHashMismatch"
)

// Result is the outcome of a verification run. FailedAt and Reason are
// meaningful only when OK is false.
type Result struct {
	OK            bool   `json:"ok"`
	VerifiedCount uint64 `json:"verified_count"`
	FailedAt      uint64 `json:"failed_at"`
	Reason        Reason `json:"reason,omitempty"`
}

// VerifierConfig controls optional verifier behavior.
type VerifierConfig struct {
	// Notifier receives a verify_ok/verify_fail event per completed run.
	Notifier Notifier
}

// Verifier replays the stored chain and confirms index continuity, hash
// linkage, artifact integrity, signatures and entry hashes. It performs no
// mutation and may run concurrently with an in-progress append.
type Verifier struct {
	store     Store
	artifacts ArtifactResolver
	pub       ed25519.PublicKey
	cfg       VerifierConfig
}

// NewVerifier creates a verifier over a store, an artifact resolver and the
// chain verification key.
func NewVerifier(st Store, artifacts ArtifactResolver, pub ed25519.PublicKey, cfg VerifierConfig) (*Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key length: %d", len(pub))
	}
	return &Verifier{store: st, artifacts: artifacts, pub: pub, cfg: cfg}, nil
}

// Verify replays entries from fromIndex to the chain end and reports the
// first divergence. The first failure is authoritative: a broken link
// invalidates all trust in subsequent positions, so verification stops there.
// An empty chain (or fromIndex at the end) verifies trivially.
//
// The context is checked between entries; cancellation aborts the run with
// the context error. Storage I/O failures are returned as errors and are
// never reported as tamper findings.
func (v *Verifier) Verify(ctx context.Context, fromIndex uint64) (Result, error) {
	length, err := v.store.Len()
	if err != nil {
		return Result{}, err
	}
	if fromIndex >= length {
		res := Result{OK: true, VerifiedCount: 0}
		v.notify(res)
		return res, nil
	}

	prev := ZeroHash
	if fromIndex > 0 {
		before, err := v.store.ReadAt(fromIndex - 1)
		if err != nil {
			return Result{}, err
		}
		prev = before.EntryHash
	}

	entries, err := v.store.ReadRange(fromIndex, length)
	if err != nil {
		return Result{}, err
	}

	pos := fromIndex
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		if e.Index != pos {
			return v.fail(fromIndex, pos, ReasonIndexMismatch), nil
		}
		if e.PreviousHash != prev {
			return v.fail(fromIndex, pos, ReasonLinkageMismatch), nil
		}

		payload := e.CanonicalEncoding()
		if !VerifySignature(v.pub, payload, e.Signature) {
			return v.fail(fromIndex, pos, ReasonSignatureInvalid), nil
		}
		if !hashEqual(HashBytes(payload), e.EntryHash) {
			return v.fail(fromIndex, pos, ReasonEntryHashMismatch), nil
		}

		artifact, err := v.artifacts.Resolve(e.ArtifactRef)
		if errors.Is(err, ErrArtifactMissing) {
			return v.fail(fromIndex, pos, ReasonArtifactMissing), nil
		}
		if err != nil {
			return Result{}, err
		}
		if !hashEqual(HashBytes(artifact), e.ArtifactHash) {
			return v.fail(fromIndex, pos, ReasonArtifactHashMismatch), nil
		}

		prev = e.EntryHash
		pos++
	}

	res := Result{OK: true, VerifiedCount: pos - fromIndex}
	v.notify(res)
	return res, nil
}

func (v *Verifier) fail(fromIndex, pos uint64, reason Reason) Result {
	res := Result{
		OK:            false,
		VerifiedCount: pos - fromIndex,
		FailedAt:      pos,
		Reason:        reason,
	}
	v.notify(res)
	return res
}

func (v *Verifier) notify(res Result) {
	if v.cfg.Notifier == nil {
		return
	}
	ev := VerifyEvent{Type: EventVerifyOK, Count: res.VerifiedCount}
	if !res.OK {
		ev = VerifyEvent{
			Type:     EventVerifyFail,
			Count:    res.VerifiedCount,
			FailedAt: res.FailedAt,
			Reason:   res.Reason,
		}
	}
	v.cfg.Notifier.VerifyOutcome(ev)
}
