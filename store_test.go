package provchain

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

type storeBackend struct {
	name   string
	open   func(t *testing.T, dir string) Store
	reopen bool
}

func storeBackends() []storeBackend {
	return []storeBackend{
		{
			name: "file",
			open: func(t *testing.T, dir string) Store {
				st, err := OpenFileStore(filepath.Join(dir, "chain"))
				if err != nil {
					t.Fatalf("OpenFileStore failed: %v", err)
				}
				return st
			},
			reopen: true,
		},
		{
			name: "sqlite",
			open: func(t *testing.T, dir string) Store {
				st, err := OpenSQLiteStore(filepath.Join(dir, "chain.db"))
				if err != nil {
					t.Fatalf("OpenSQLiteStore failed: %v", err)
				}
				return st
			},
			reopen: true,
		},
		{
			name: "badger",
			open: func(t *testing.T, dir string) Store {
				st, err := OpenBadgerStore(filepath.Join(dir, "chain.badger"))
				if err != nil {
					t.Fatalf("OpenBadgerStore failed: %v", err)
				}
				return st
			},
			reopen: true,
		},
	}
}

// sealedEntries builds a valid chain of n sealed entries without going
// through a Builder, so store tests stay independent of the ingest path.
func sealedEntries(t *testing.T, priv ed25519.PrivateKey, n int) []ChainEntry {
	t.Helper()
	out := make([]ChainEntry, 0, n)
	prev := ZeroHash
	for i := 0; i < n; i++ {
		e := ChainEntry{
			Index:        uint64(i),
			Timestamp:    fmt.Sprintf("2026-08-25T12:00:%02dZ", i),
			ArtifactRef:  fmt.Sprintf("frame_%04d.jpg", i),
			ArtifactHash: HashBytes([]byte(fmt.Sprintf("frame payload %d", i))),
			PreviousHash: prev,
		}
		e.Seal(priv)
		out = append(out, e)
		prev = e.EntryHash
	}
	return out
}

func TestStore_AppendAndRead(t *testing.T) {
	for _, backend := range storeBackends() {
		t.Run(backend.name, func(t *testing.T) {
			st := backend.open(t, t.TempDir())
			defer st.Close()
			pair := testKeypair(t)
			entries := sealedEntries(t, pair.Private, 5)

			if length, err := st.Len(); err != nil || length != 0 {
				t.Fatalf("fresh store Len = %d, %v", length, err)
			}
			if _, ok, err := st.Head(); err != nil || ok {
				t.Fatalf("fresh store has a head: ok=%v err=%v", ok, err)
			}

			for _, e := range entries {
				if err := st.Append(e); err != nil {
					t.Fatalf("append %d: %v", e.Index, err)
				}
			}

			length, err := st.Len()
			if err != nil || length != 5 {
				t.Fatalf("Len = %d, %v; want 5", length, err)
			}

			head, ok, err := st.Head()
			if err != nil || !ok {
				t.Fatalf("Head failed: ok=%v err=%v", ok, err)
			}
			if head != entries[4] {
				t.Fatalf("head = %+v, want %+v", head, entries[4])
			}

			all, err := st.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if len(all) != 5 {
				t.Fatalf("ReadAll returned %d entries", len(all))
			}
			for i, e := range all {
				if e != entries[i] {
					t.Fatalf("entry %d = %+v, want %+v", i, e, entries[i])
				}
			}

			got, err := st.ReadRange(1, 4)
			if err != nil {
				t.Fatalf("ReadRange failed: %v", err)
			}
			if len(got) != 3 || got[0].Index != 1 || got[2].Index != 3 {
				t.Fatalf("ReadRange(1,4) = %+v", got)
			}

			e2, err := st.ReadAt(2)
			if err != nil || e2 != entries[2] {
				t.Fatalf("ReadAt(2) = %+v, %v", e2, err)
			}
			if _, err := st.ReadAt(99); !errors.Is(err, ErrNotFound) {
				t.Fatalf("ReadAt(99) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_RejectsSequenceViolation(t *testing.T) {
	for _, backend := range storeBackends() {
		t.Run(backend.name, func(t *testing.T) {
			st := backend.open(t, t.TempDir())
			defer st.Close()
			pair := testKeypair(t)
			entries := sealedEntries(t, pair.Private, 3)

			if err := st.Append(entries[0]); err != nil {
				t.Fatal(err)
			}
			// Skipping index 1 must be rejected.
			skipped := entries[2]
			skipped.PreviousHash = entries[0].EntryHash
			skipped.Seal(pair.Private)
			if err := st.Append(skipped); !errors.Is(err, ErrSequenceViolation) {
				t.Fatalf("append error = %v, want ErrSequenceViolation", err)
			}
			if length, _ := st.Len(); length != 1 {
				t.Fatalf("length changed to %d after rejected append", length)
			}
		})
	}
}

func TestStore_RejectsLinkageViolation(t *testing.T) {
	for _, backend := range storeBackends() {
		t.Run(backend.name, func(t *testing.T) {
			st := backend.open(t, t.TempDir())
			defer st.Close()
			pair := testKeypair(t)
			entries := sealedEntries(t, pair.Private, 2)

			if err := st.Append(entries[0]); err != nil {
				t.Fatal(err)
			}
			// Stale previous hash: still links to the sentinel.
			stale := entries[1]
			stale.PreviousHash = ZeroHash
			stale.Seal(pair.Private)
			if err := st.Append(stale); !errors.Is(err, ErrLinkageViolation) {
				t.Fatalf("append error = %v, want ErrLinkageViolation", err)
			}
			if length, _ := st.Len(); length != 1 {
				t.Fatalf("length changed to %d after rejected append", length)
			}
		})
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	for _, backend := range storeBackends() {
		if !backend.reopen {
			continue
		}
		t.Run(backend.name, func(t *testing.T) {
			dir := t.TempDir()
			pair := testKeypair(t)
			entries := sealedEntries(t, pair.Private, 4)

			st := backend.open(t, dir)
			for _, e := range entries {
				if err := st.Append(e); err != nil {
					t.Fatal(err)
				}
			}
			if err := st.Close(); err != nil {
				t.Fatal(err)
			}

			st = backend.open(t, dir)
			defer st.Close()
			all, err := st.ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 4 {
				t.Fatalf("reopened store has %d entries, want 4", len(all))
			}
			head, ok, err := st.Head()
			if err != nil || !ok || head != entries[3] {
				t.Fatalf("reopened head = %+v ok=%v err=%v", head, ok, err)
			}
			// The chain must still extend cleanly after reopen.
			next := ChainEntry{
				Index:        4,
				Timestamp:    "2026-08-25T12:01:00Z",
				ArtifactRef:  "frame_0004.jpg",
				ArtifactHash: HashBytes([]byte("frame payload 4")),
				PreviousHash: head.EntryHash,
			}
			next.Seal(pair.Private)
			if err := st.Append(next); err != nil {
				t.Fatalf("append after reopen: %v", err)
			}
		})
	}
}
