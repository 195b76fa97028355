package provchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore is a slice-backed Store used by tests that need to tamper with
// committed entries directly.
type memStore struct {
	mu      sync.Mutex
	entries []ChainEntry
}

func (m *memStore) Append(e ChainEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var head *ChainEntry
	if n := len(m.entries); n > 0 {
		head = &m.entries[n-1]
	}
	if err := validateAppend(uint64(len(m.entries)), head, e); err != nil {
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Len() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.entries)), nil
}

func (m *memStore) Head() (ChainEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return ChainEntry{}, false, nil
	}
	return m.entries[len(m.entries)-1], true, nil
}

func (m *memStore) ReadAll() ([]ChainEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChainEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStore) ReadRange(from, to uint64) ([]ChainEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if to > uint64(len(m.entries)) {
		to = uint64(len(m.entries))
	}
	if from >= to {
		return nil, nil
	}
	out := make([]ChainEntry, to-from)
	copy(out, m.entries[from:to])
	return out, nil
}

func (m *memStore) ReadAt(index uint64) (ChainEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= uint64(len(m.entries)) {
		return ChainEntry{}, ErrNotFound
	}
	return m.entries[index], nil
}

func (m *memStore) Close() error { return nil }

// tamper replaces the committed entry at index i, bypassing append checks.
func (m *memStore) tamper(i int, mutate func(*ChainEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.entries[i])
}

// swap exchanges the stored positions of two entries without touching their
// fields, simulating a reordering attack.
func (m *memStore) swap(i, j int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[i], m.entries[j] = m.entries[j], m.entries[i]
}

// captureNotifier records events for assertion.
type captureNotifier struct {
	mu       sync.Mutex
	heads    []HeadEvent
	verifies []VerifyEvent
}

func (c *captureNotifier) ChainHead(ev HeadEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heads = append(c.heads, ev)
}

func (c *captureNotifier) VerifyOutcome(ev VerifyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifies = append(c.verifies, ev)
}

func testKeypair(t *testing.T) Keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return Keypair{Private: priv, Public: pub}
}

// testChain builds a chain of n artifacts in a fresh memStore and temp
// artifact dir, one entry per call of a deterministic clock.
func testChain(t *testing.T, n int) (*memStore, *DirArtifacts, Keypair) {
	t.Helper()
	store := &memStore{}
	arts, err := NewDirArtifacts(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pair := testKeypair(t)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tick := 0
	builder, err := NewBuilder(store, arts, pair.Private, BuilderConfig{
		Clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		ref := fmt.Sprintf("frame_%04d.jpg", i)
		data := []byte(fmt.Sprintf("frame payload %d", i))
		if _, err := builder.Ingest(data, ref); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	return store, arts, pair
}
