package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/compresr/token-optimizer/internal/apperrors"
)

// persistentStore is the on-disk tier, backed by a pure-Go SQLite driver in
// WAL mode so concurrent readers don't block the writer doing eviction.
type persistentStore struct {
	db       *sql.DB
	maxBytes int64
}

func openPersistentStore(path string, maxBytes int64) (*persistentStore, error) {
	dsn := fmt.Sprintf("file:%s", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Internal(err, "opening persistent cache database at %s", path)
	}
	// A single writer connection avoids SQLITE_BUSY under WAL without needing
	// a busy-timeout retry loop around every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apperrors.Internal(err, "applying pragma %q", pragma)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	value            BLOB NOT NULL,
	compressed       INTEGER NOT NULL,
	original_bytes   INTEGER NOT NULL,
	stored_bytes     INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	hit_count        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_last_accessed ON cache_entries(last_accessed_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Internal(err, "creating cache schema")
	}

	return &persistentStore{db: db, maxBytes: maxBytes}, nil
}

func (s *persistentStore) close() error {
	return s.db.Close()
}

// put performs an atomic insert-or-update: on conflict, value/compressed/
// size columns are refreshed but created_at and hit_count are preserved
// (spec §4.3: updates must not reset hit_count or createdAt).
func (s *persistentStore) put(e Entry) error {
	now := e.UpdatedAt.Unix()
	_, err := s.db.Exec(`
INSERT INTO cache_entries (key, value, compressed, original_bytes, stored_bytes, created_at, updated_at, last_accessed_at, hit_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	compressed = excluded.compressed,
	original_bytes = excluded.original_bytes,
	stored_bytes = excluded.stored_bytes,
	updated_at = excluded.updated_at
`, e.Key, e.Value, boolToInt(e.Compressed), e.OriginalBytes, e.StoredBytes, e.CreatedAt.Unix(), now, now)
	if err != nil {
		return apperrors.Internal(err, "persisting cache entry %q", e.Key)
	}
	return nil
}

func (s *persistentStore) get(key string) (Entry, bool, error) {
	row := s.db.QueryRow(`SELECT key, value, compressed, original_bytes, stored_bytes, created_at, updated_at, last_accessed_at, hit_count FROM cache_entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, apperrors.Internal(err, "reading cache entry %q", key)
	}
	return e, true, nil
}

// touch bumps last_accessed_at and hit_count for a cache hit, atomically.
func (s *persistentStore) touch(key string, when time.Time) error {
	_, err := s.db.Exec(`UPDATE cache_entries SET last_accessed_at = ?, hit_count = hit_count + 1 WHERE key = ?`, when.Unix(), key)
	if err != nil {
		return apperrors.Internal(err, "touching cache entry %q", key)
	}
	return nil
}

func (s *persistentStore) delete(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return false, apperrors.Internal(err, "deleting cache entry %q", key)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *persistentStore) clear() error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return apperrors.Internal(err, "clearing persistent cache")
	}
	return nil
}

func (s *persistentStore) all() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, value, compressed, original_bytes, stored_bytes, created_at, updated_at, last_accessed_at, hit_count FROM cache_entries`)
	if err != nil {
		return nil, apperrors.Internal(err, "listing persistent cache entries")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.Internal(err, "scanning persistent cache entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// evictLRUUntil walks entries by last_accessed_at descending (ties broken
// by key ascending) and keeps each one while the stored_bytes already kept
// total less than budget, so the last kept entry can push the total past
// budget. It deletes the rest as a single atomic operation, returning the
// evicted keys.
func (s *persistentStore) evictLRUUntil(budget int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT key, stored_bytes FROM cache_entries ORDER BY last_accessed_at DESC, key ASC`)
	if err != nil {
		return nil, apperrors.Internal(err, "listing cache entries for eviction")
	}

	type candidate struct {
		key         string
		storedBytes int64
	}
	var all []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.key, &c.storedBytes); err != nil {
			rows.Close()
			return nil, apperrors.Internal(err, "scanning LRU eviction candidate")
		}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var cumulative int64
	var evicted []string
	for _, c := range all {
		if cumulative < budget {
			cumulative += c.storedBytes
			continue
		}
		evicted = append(evicted, c.key)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, apperrors.Internal(err, "starting eviction transaction")
	}
	for _, key := range evicted {
		if _, err := tx.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			_ = tx.Rollback()
			return nil, apperrors.Internal(err, "deleting evicted cache entry")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Internal(err, "committing eviction transaction")
	}
	return evicted, nil
}

func (s *persistentStore) totalBytes() (int64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(SUM(stored_bytes), 0) FROM cache_entries`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, apperrors.Internal(err, "summing persistent cache size")
	}
	return total, nil
}

func (s *persistentStore) count() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, apperrors.Internal(err, "counting persistent cache entries")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                                     Entry
		compressedInt                         int
		createdAt, updatedAt, lastAccessedAt  int64
	)
	if err := row.Scan(&e.Key, &e.Value, &compressedInt, &e.OriginalBytes, &e.StoredBytes, &createdAt, &updatedAt, &lastAccessedAt, &e.HitCount); err != nil {
		return Entry{}, err
	}
	e.Compressed = compressedInt != 0
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	e.LastAccessedAt = time.Unix(lastAccessedAt, 0).UTC()
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
