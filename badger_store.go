package provchain

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// badgerStore implements Store on an embedded Badger key-value database.
//
// Keys:
//   - entry/<index, 20 digits zero-padded>: entry record in wire format
//   - meta/head: wire-encoded copy of the most recent entry
//
// Both keys are written in a single Update transaction, so an append is
// committed atomically and the head key always agrees with the entry set.
type badgerStore struct{ db *badger.DB }

const (
	badgerEntryPrefix = "entry/"
	badgerHeadKey     = "meta/head"
)

// OpenBadgerStore creates or opens a Badger-backed chain store in dir.
func OpenBadgerStore(dir string) (Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, storageErr("open badger", err)
	}
	return &badgerStore{db: db}, nil
}

func badgerEntryKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", badgerEntryPrefix, index))
}

func (s *badgerStore) Append(e ChainEntry) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		length, head, err := badgerChainState(txn)
		if err != nil {
			return err
		}
		if err := validateAppend(length, head, e); err != nil {
			return err
		}
		record := appendEntryWire(nil, e)
		if err := txn.Set(badgerEntryKey(e.Index), record); err != nil {
			return storageErr("set entry", err)
		}
		if err := txn.Set([]byte(badgerHeadKey), record); err != nil {
			return storageErr("set head", err)
		}
		return nil
	})
	if err == nil || isChainViolation(err) || isStorageError(err) {
		return err
	}
	// Anything else came out of Badger itself (e.g. commit failure).
	return storageErr("append tx", err)
}

func isChainViolation(err error) bool {
	return errors.Is(err, ErrSequenceViolation) || errors.Is(err, ErrLinkageViolation)
}

func isStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func badgerChainState(txn *badger.Txn) (uint64, *ChainEntry, error) {
	item, err := txn.Get([]byte(badgerHeadKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, storageErr("get head", err)
	}
	var head ChainEntry
	err = item.Value(func(val []byte) error {
		var perr error
		head, perr = parseEntryWire(val)
		return perr
	})
	if err != nil {
		return 0, nil, storageErr("decode head", err)
	}
	return head.Index + 1, &head, nil
}

func (s *badgerStore) Len() (uint64, error) {
	var length uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		length, _, err = badgerChainState(txn)
		return err
	})
	return length, err
}

func (s *badgerStore) Head() (ChainEntry, bool, error) {
	var head ChainEntry
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		length, h, err := badgerChainState(txn)
		if err != nil {
			return err
		}
		if length > 0 {
			head, ok = *h, true
		}
		return nil
	})
	return head, ok, err
}

func (s *badgerStore) ReadAll() ([]ChainEntry, error) {
	length, err := s.Len()
	if err != nil {
		return nil, err
	}
	return s.ReadRange(0, length)
}

func (s *badgerStore) ReadRange(from, to uint64) ([]ChainEntry, error) {
	var out []ChainEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerEntryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(badgerEntryKey(from)); it.Valid(); it.Next() {
			var e ChainEntry
			err := it.Item().Value(func(val []byte) error {
				var perr error
				e, perr = parseEntryWire(val)
				return perr
			})
			if err != nil {
				return storageErr("decode entry", err)
			}
			if e.Index >= to {
				break
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerStore) ReadAt(index uint64) (ChainEntry, error) {
	var e ChainEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerEntryKey(index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return storageErr("get entry", err)
		}
		return item.Value(func(val []byte) error {
			var perr error
			e, perr = parseEntryWire(val)
			return perr
		})
	})
	if err != nil {
		return ChainEntry{}, err
	}
	return e, nil
}

func (s *badgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return storageErr("close badger", err)
	}
	return nil
}
