package provchain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEntryWire_RoundTrip(t *testing.T) {
	pair := testKeypair(t)
	e := ChainEntry{
		Index:        42,
		Timestamp:    "2026-08-25T12:00:42.123456789Z",
		ArtifactRef:  "frame_0042.jpg",
		ArtifactHash: HashBytes([]byte("forty-two")),
		PreviousHash: strings.Repeat("cd", 32),
	}
	e.Seal(pair.Private)

	got, err := parseEntryWire(appendEntryWire(nil, e))
	if err != nil {
		t.Fatalf("parseEntryWire failed: %v", err)
	}
	if got != e {
		t.Fatalf("round trip = %+v, want %+v", got, e)
	}
}

func TestEntryWire_RejectsTruncatedRecord(t *testing.T) {
	pair := testKeypair(t)
	entries := sealedEntries(t, pair.Private, 1)
	record := appendEntryWire(nil, entries[0])

	if _, err := parseEntryWire(record[:len(record)/2]); err == nil {
		t.Fatal("parsed a truncated record without error")
	}
}

// A crash between the record write and the tail state commit leaves trailing
// bytes past the committed length. The store must discard them on reopen.
func TestFileStore_DiscardsTornAppend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	pair := testKeypair(t)
	entries := sealedEntries(t, pair.Private, 3)

	st, err := OpenFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries[:2] {
		if err := st.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate the torn third append: bytes hit the data file but the tail
	// state was never updated.
	f, err := os.OpenFile(filepath.Join(dir, chainFileName), os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("partial record garbage")); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = OpenFileStore(dir)
	if err != nil {
		t.Fatalf("reopen after torn append failed: %v", err)
	}
	defer st.Close()

	length, err := st.Len()
	if err != nil || length != 2 {
		t.Fatalf("Len after recovery = %d, %v; want 2", length, err)
	}
	all, err := st.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1] != entries[1] {
		t.Fatalf("recovered entries = %+v", all)
	}

	// The chain must accept the retried append cleanly.
	if err := st.Append(entries[2]); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
}

func TestFileStore_FreshDirWithStrayDataFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	// Crash before the first tail commit: data bytes exist, no tail.dat.
	if err := os.WriteFile(filepath.Join(dir, chainFileName), []byte("junk"), 0600); err != nil {
		t.Fatal(err)
	}

	st, err := OpenFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if length, err := st.Len(); err != nil || length != 0 {
		t.Fatalf("Len = %d, %v; want empty store", length, err)
	}

	pair := testKeypair(t)
	if err := st.Append(sealedEntries(t, pair.Private, 1)[0]); err != nil {
		t.Fatalf("append into recovered fresh store: %v", err)
	}
}

func TestFileStore_RejectsShortDataFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	pair := testKeypair(t)

	st, err := OpenFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Append(sealedEntries(t, pair.Private, 1)[0]); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// Truncating below the committed length is unrecoverable corruption.
	if err := os.Truncate(filepath.Join(dir, chainFileName), 4); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileStore(dir); err == nil {
		t.Fatal("opened a store whose data file is shorter than the committed length")
	}
}
