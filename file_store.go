package provchain

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"google.golang.org/protobuf/encoding/protowire"
)

// fileStore implements Store using POSIX files with append-only semantics.
//
// Layout:
//   - chain.dat: framed entry records, append-only
//   - tail.dat:  committed state, replaced atomically via rename
//
// Each record in chain.dat is a uvarint length prefix followed by the entry
// encoded in protobuf wire format (see entryWire). tail.dat holds the number
// of committed bytes, the entry count, and the head entry hash; it is only
// updated after the record has been fsynced, so readers that honour the
// committed length never observe a torn append. Bytes past the committed
// length are discarded on open.
type fileStore struct {
	dir      string
	dataFile *os.File

	mu       sync.RWMutex
	size     uint64 // committed bytes in chain.dat
	count    uint64 // committed entries
	head     ChainEntry
	hasHead  bool
}

const (
	chainFileName    = "chain.dat"
	tailStateName    = "tail.dat"
	tailStateTmpName = "tail.dat.tmp"
	tailStateSize    = 8 + 8 + HashHexLen // size + count + head hash
)

// OpenFileStore creates or opens a file-based chain store in dir.
func OpenFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, storageErr("create store dir", err)
	}

	dataFile, err := os.OpenFile(filepath.Join(dir, chainFileName), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, storageErr("open chain file", err)
	}

	s := &fileStore{dir: dir, dataFile: dataFile}
	if err := s.recover(); err != nil {
		_ = dataFile.Close()
		return nil, err
	}
	return s, nil
}

// recover loads the committed tail state, discards any torn append past the
// committed length, and repopulates the cached head entry.
func (s *fileStore) recover() error {
	size, count, headHash, ok, err := s.readTailState()
	if err != nil {
		return err
	}
	if !ok {
		// Fresh store: nothing committed yet, even if chain.dat has
		// leftover bytes from a crash before the first tail write.
		return s.dataFile.Truncate(0)
	}

	info, err := s.dataFile.Stat()
	if err != nil {
		return storageErr("stat chain file", err)
	}
	if uint64(info.Size()) < size {
		return storageErr("recover", fmt.Errorf("chain file has %d bytes, tail commits %d", info.Size(), size))
	}
	if uint64(info.Size()) > size {
		if err := s.dataFile.Truncate(int64(size)); err != nil {
			return storageErr("truncate torn append", err)
		}
	}

	s.size = size
	s.count = count
	if count > 0 {
		entries, err := s.readCommitted(count-1, count)
		if err != nil {
			return err
		}
		if len(entries) != 1 || entries[0].EntryHash != headHash {
			return storageErr("recover", fmt.Errorf("tail head hash %s does not match last record", shortHash(headHash)))
		}
		s.head = entries[0]
		s.hasHead = true
	}
	return nil
}

// Append writes the framed record, syncs it, then commits the new tail state.
func (s *fileStore) Append(e ChainEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head *ChainEntry
	if s.hasHead {
		head = &s.head
	}
	if err := validateAppend(s.count, head, e); err != nil {
		return err
	}

	if err := syscall.Flock(int(s.dataFile.Fd()), syscall.LOCK_EX); err != nil {
		return storageErr("lock chain file", err)
	}
	defer syscall.Flock(int(s.dataFile.Fd()), syscall.LOCK_UN)

	record := appendEntryWire(nil, e)
	frame := binary.AppendUvarint(nil, uint64(len(record)))
	frame = append(frame, record...)

	if _, err := s.dataFile.WriteAt(frame, int64(s.size)); err != nil {
		return storageErr("write record", err)
	}
	if err := s.dataFile.Sync(); err != nil {
		return storageErr("sync chain file", err)
	}
	if err := s.writeTailState(s.size+uint64(len(frame)), s.count+1, e.EntryHash); err != nil {
		return err
	}

	s.size += uint64(len(frame))
	s.count++
	s.head = e
	s.hasHead = true
	return nil
}

func (s *fileStore) Len() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

func (s *fileStore) Head() (ChainEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.hasHead, nil
}

func (s *fileStore) ReadAll() ([]ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readCommitted(0, s.count)
}

func (s *fileStore) ReadRange(from, to uint64) ([]ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if to > s.count {
		to = s.count
	}
	if from >= to {
		return nil, nil
	}
	return s.readCommitted(from, to)
}

func (s *fileStore) ReadAt(index uint64) (ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= s.count {
		return ChainEntry{}, ErrNotFound
	}
	entries, err := s.readCommitted(index, index+1)
	if err != nil {
		return ChainEntry{}, err
	}
	return entries[0], nil
}

// readCommitted scans the committed portion of chain.dat and returns entries
// with index in [from, to). Records are variable length, so the scan always
// starts at the beginning of the file.
func (s *fileStore) readCommitted(from, to uint64) ([]ChainEntry, error) {
	f, err := os.Open(filepath.Join(s.dir, chainFileName))
	if err != nil {
		return nil, storageErr("open chain file", err)
	}
	defer f.Close()

	data := make([]byte, s.size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, storageErr("read chain file", err)
	}

	var out []ChainEntry
	var idx uint64
	for len(data) > 0 && idx < to {
		recLen, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data[n:])) < recLen {
			return nil, storageErr("decode frame", fmt.Errorf("corrupt frame at entry %d", idx))
		}
		if idx >= from {
			e, err := parseEntryWire(data[n : n+int(recLen)])
			if err != nil {
				return nil, storageErr("decode record", err)
			}
			out = append(out, e)
		}
		data = data[n+int(recLen):]
		idx++
	}
	if idx < to {
		return nil, storageErr("read range", fmt.Errorf("committed data ends at entry %d, want %d", idx, to))
	}
	return out, nil
}

// writeTailState replaces tail.dat atomically: write a temp file, sync it,
// rename it over the old state.
func (s *fileStore) writeTailState(size, count uint64, headHash string) error {
	buf := make([]byte, tailStateSize)
	binary.BigEndian.PutUint64(buf[0:8], size)
	binary.BigEndian.PutUint64(buf[8:16], count)
	copy(buf[16:], headHash)

	tmp := filepath.Join(s.dir, tailStateTmpName)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return storageErr("create tail temp", err)
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return storageErr("write tail temp", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return storageErr("sync tail temp", err)
	}
	if err := f.Close(); err != nil {
		return storageErr("close tail temp", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, tailStateName)); err != nil {
		return storageErr("commit tail state", err)
	}
	return nil
}

func (s *fileStore) readTailState() (size, count uint64, headHash string, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, tailStateName))
	if os.IsNotExist(err) {
		return 0, 0, "", false, nil
	}
	if err != nil {
		return 0, 0, "", false, storageErr("read tail state", err)
	}
	if len(data) != tailStateSize {
		return 0, 0, "", false, storageErr("read tail state", fmt.Errorf("tail state is %d bytes, want %d", len(data), tailStateSize))
	}
	size = binary.BigEndian.Uint64(data[0:8])
	count = binary.BigEndian.Uint64(data[8:16])
	headHash = string(data[16:])
	return size, count, headHash, true, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dataFile.Close(); err != nil {
		return storageErr("close chain file", err)
	}
	return nil
}

// Wire field numbers for a framed entry record. The framing uses the protobuf
// wire format directly, so the on-disk records stay readable by any protobuf
// tooling given the equivalent message definition.
const (
	fieldIndex        = 1
	fieldTimestamp    = 2
	fieldArtifactRef  = 3
	fieldArtifactHash = 4
	fieldPreviousHash = 5
	fieldSignature    = 6
	fieldEntryHash    = 7
)

func appendEntryWire(buf []byte, e ChainEntry) []byte {
	buf = protowire.AppendTag(buf, fieldIndex, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.Index)
	buf = protowire.AppendTag(buf, fieldTimestamp, protowire.BytesType)
	buf = protowire.AppendString(buf, e.Timestamp)
	buf = protowire.AppendTag(buf, fieldArtifactRef, protowire.BytesType)
	buf = protowire.AppendString(buf, e.ArtifactRef)
	buf = protowire.AppendTag(buf, fieldArtifactHash, protowire.BytesType)
	buf = protowire.AppendString(buf, e.ArtifactHash)
	buf = protowire.AppendTag(buf, fieldPreviousHash, protowire.BytesType)
	buf = protowire.AppendString(buf, e.PreviousHash)
	buf = protowire.AppendTag(buf, fieldSignature, protowire.BytesType)
	buf = protowire.AppendString(buf, e.Signature)
	buf = protowire.AppendTag(buf, fieldEntryHash, protowire.BytesType)
	buf = protowire.AppendString(buf, e.EntryHash)
	return buf
}

func parseEntryWire(b []byte) (ChainEntry, error) {
	var e ChainEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		b = b[n:]

		if num == fieldIndex && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Index = v
			b = b[n:]
			continue
		}
		if typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			switch num {
			case fieldTimestamp:
				e.Timestamp = v
			case fieldArtifactRef:
				e.ArtifactRef = v
			case fieldArtifactHash:
				e.ArtifactHash = v
			case fieldPreviousHash:
				e.PreviousHash = v
			case fieldSignature:
				e.Signature = v
			case fieldEntryHash:
				e.EntryHash = v
			}
			b = b[n:]
			continue
		}
		// Unknown field: skip to stay forward compatible.
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return e, nil
}
