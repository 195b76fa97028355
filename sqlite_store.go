package provchain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

type sqliteStore struct{ db *sql.DB }

// OpenSQLiteStore opens/creates a SQLite-backed chain store and ensures
// schema + PRAGMAs. Appends run in serializable transactions, so a crashed
// append is rolled back and never visible to readers.
func OpenSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storageErr("ping database", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, storageErr("set pragma", fmt.Errorf("%s: %w", p, err))
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS chain_entries (
  idx           INTEGER PRIMARY KEY,
  ts            TEXT NOT NULL,
  artifact_ref  TEXT NOT NULL,
  artifact_hash TEXT NOT NULL,
  previous_hash TEXT NOT NULL,
  signature     TEXT NOT NULL,
  entry_hash    TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, storageErr("create schema", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Append(e ChainEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return storageErr("begin append tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	length, head, err := chainStateTx(ctx, tx)
	if err != nil {
		return err
	}
	if err := validateAppend(length, head, e); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chain_entries(idx, ts, artifact_ref, artifact_hash, previous_hash, signature, entry_hash)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.Index, e.Timestamp, e.ArtifactRef, e.ArtifactHash, e.PreviousHash, e.Signature, e.EntryHash); err != nil {
		return storageErr("insert entry", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit append", err)
	}
	return nil
}

func chainStateTx(ctx context.Context, tx *sql.Tx) (uint64, *ChainEntry, error) {
	var length uint64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_entries`).Scan(&length); err != nil {
		return 0, nil, storageErr("count entries", err)
	}
	if length == 0 {
		return 0, nil, nil
	}
	var head ChainEntry
	err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT idx, ts, artifact_ref, artifact_hash, previous_hash, signature, entry_hash
		 FROM chain_entries ORDER BY idx DESC LIMIT 1`), &head)
	if err != nil {
		return 0, nil, storageErr("read head", err)
	}
	return length, &head, nil
}

func (s *sqliteStore) Len() (uint64, error) {
	var length uint64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chain_entries`).Scan(&length); err != nil {
		return 0, storageErr("count entries", err)
	}
	return length, nil
}

func (s *sqliteStore) Head() (ChainEntry, bool, error) {
	var head ChainEntry
	err := scanEntry(s.db.QueryRow(
		`SELECT idx, ts, artifact_ref, artifact_hash, previous_hash, signature, entry_hash
		 FROM chain_entries ORDER BY idx DESC LIMIT 1`), &head)
	if errors.Is(err, sql.ErrNoRows) {
		return ChainEntry{}, false, nil
	}
	if err != nil {
		return ChainEntry{}, false, storageErr("read head", err)
	}
	return head, true, nil
}

func (s *sqliteStore) ReadAll() ([]ChainEntry, error) {
	return s.readWhere(`SELECT idx, ts, artifact_ref, artifact_hash, previous_hash, signature, entry_hash
		FROM chain_entries ORDER BY idx ASC`)
}

func (s *sqliteStore) ReadRange(from, to uint64) ([]ChainEntry, error) {
	return s.readWhere(`SELECT idx, ts, artifact_ref, artifact_hash, previous_hash, signature, entry_hash
		FROM chain_entries WHERE idx >= ? AND idx < ? ORDER BY idx ASC`, from, to)
}

func (s *sqliteStore) ReadAt(index uint64) (ChainEntry, error) {
	var e ChainEntry
	err := scanEntry(s.db.QueryRow(
		`SELECT idx, ts, artifact_ref, artifact_hash, previous_hash, signature, entry_hash
		 FROM chain_entries WHERE idx = ?`, index), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return ChainEntry{}, ErrNotFound
	}
	if err != nil {
		return ChainEntry{}, storageErr("read entry", err)
	}
	return e, nil
}

func (s *sqliteStore) readWhere(query string, args ...any) ([]ChainEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("query entries", err)
	}
	defer rows.Close()

	var out []ChainEntry
	for rows.Next() {
		var e ChainEntry
		if err := rows.Scan(&e.Index, &e.Timestamp, &e.ArtifactRef, &e.ArtifactHash, &e.PreviousHash, &e.Signature, &e.EntryHash); err != nil {
			return nil, storageErr("scan entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entries", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, e *ChainEntry) error {
	return row.Scan(&e.Index, &e.Timestamp, &e.ArtifactRef, &e.ArtifactHash, &e.PreviousHash, &e.Signature, &e.EntryHash)
}

func (s *sqliteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return storageErr("close database", err)
	}
	return nil
}
