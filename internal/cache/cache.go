// Package cache implements the persistent signature cache: a
// single-writer SQLite store memoizing exact and perceptual fingerprints
// across runs, keyed by file identity.
//
// The schema and upsert semantics are a direct port of the reference
// implementation's signatures table (path primary key, size/mtime_ns/
// dev/ino identity columns, four optional fingerprint columns, and
// last_seen_run for pruning), following the same "INSERT ... ON
// CONFLICT DO UPDATE with per-column CASE" pattern so that an identity
// change invalidates every fingerprint atomically while an identity
// match only overwrites fields that were actually recomputed.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"filesieve/internal/inventory"
)

// Record holds the cached fingerprints for a file identity. Nil fields
// mean "not computed".
type Record struct {
	QuickHash *string
	FullHash  *string
	MediaSig  *string
	MediaMeta *string
}

// Cache is the single-writer signature store for one run.
type Cache struct {
	db *sql.DB
}

// Open creates or opens the cache database at path, creating the
// schema if absent. Write-ahead logging keeps readers and the single
// writer from blocking each other mid-run.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single logical writer, see package doc

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: pragma: %w", err)
		}
	}

	c := &Cache{db: db}
	if err := c.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) ensureSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS signatures (
			path          TEXT PRIMARY KEY,
			size          INTEGER NOT NULL,
			mtime_ns      INTEGER NOT NULL,
			dev           INTEGER NOT NULL,
			ino           INTEGER NOT NULL,
			quick_hash    TEXT,
			full_hash     TEXT,
			media_sig     TEXT,
			media_meta    TEXT,
			last_seen_run TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signatures_seen ON signatures(last_seen_run);
	`)
	if err != nil {
		return fmt.Errorf("cache: schema: %w", err)
	}
	return nil
}

// Get returns the cached record for id if the stored identity tuple
// (size, mtime_ns, dev, ino) exactly matches id; otherwise it returns
// (nil, nil), per the invariant that a hit only happens on byte-identical
// content up to the precision of the identity tuple.
func (c *Cache) Get(id inventory.Identity) (*Record, error) {
	row := c.db.QueryRow(`
		SELECT quick_hash, full_hash, media_sig, media_meta
		FROM signatures
		WHERE path = ? AND size = ? AND mtime_ns = ? AND dev = ? AND ino = ?
	`, id.Path, id.Size, id.MtimeNs, id.Dev, id.Ino)

	var rec Record
	if err := row.Scan(&rec.QuickHash, &rec.FullHash, &rec.MediaSig, &rec.MediaMeta); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	return &rec, nil
}

// Upsert inserts or updates the row for id. If the stored identity
// differs from id, every fingerprint field is replaced with the
// incoming value (even when nil, clearing stale fingerprints). If the
// identity matches, each field takes the incoming non-nil value, else
// retains what was already stored. last_seen_run is always stamped to
// runID.
func (c *Cache) Upsert(id inventory.Identity, fields Record, runID string) error {
	_, err := c.db.Exec(`
		INSERT INTO signatures (
			path, size, mtime_ns, dev, ino,
			quick_hash, full_hash, media_sig, media_meta, last_seen_run
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime_ns = excluded.mtime_ns,
			dev = excluded.dev,
			ino = excluded.ino,
			quick_hash = CASE
				WHEN signatures.size <> excluded.size
				  OR signatures.mtime_ns <> excluded.mtime_ns
				  OR signatures.dev <> excluded.dev
				  OR signatures.ino <> excluded.ino
				THEN excluded.quick_hash
				ELSE COALESCE(excluded.quick_hash, signatures.quick_hash)
			END,
			full_hash = CASE
				WHEN signatures.size <> excluded.size
				  OR signatures.mtime_ns <> excluded.mtime_ns
				  OR signatures.dev <> excluded.dev
				  OR signatures.ino <> excluded.ino
				THEN excluded.full_hash
				ELSE COALESCE(excluded.full_hash, signatures.full_hash)
			END,
			media_sig = CASE
				WHEN signatures.size <> excluded.size
				  OR signatures.mtime_ns <> excluded.mtime_ns
				  OR signatures.dev <> excluded.dev
				  OR signatures.ino <> excluded.ino
				THEN excluded.media_sig
				ELSE COALESCE(excluded.media_sig, signatures.media_sig)
			END,
			media_meta = CASE
				WHEN signatures.size <> excluded.size
				  OR signatures.mtime_ns <> excluded.mtime_ns
				  OR signatures.dev <> excluded.dev
				  OR signatures.ino <> excluded.ino
				THEN excluded.media_meta
				ELSE COALESCE(excluded.media_meta, signatures.media_meta)
			END,
			last_seen_run = excluded.last_seen_run
	`,
		id.Path, id.Size, id.MtimeNs, id.Dev, id.Ino,
		fields.QuickHash, fields.FullHash, fields.MediaSig, fields.MediaMeta,
		runID,
	)
	if err != nil {
		return fmt.Errorf("cache: upsert: %w", err)
	}
	return nil
}

// Commit flushes pending writes durably.
func (c *Cache) Commit() error {
	// modernc.org/sqlite auto-commits each Exec outside an explicit
	// transaction; WAL checkpoints on close. An explicit PASSIVE
	// checkpoint here makes "commit" observable at stage boundaries
	// without blocking concurrent readers.
	if _, err := c.db.Exec("PRAGMA wal_checkpoint(PASSIVE);"); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}
	return nil
}

// PruneStale deletes every row whose last_seen_run differs from runID.
func (c *Cache) PruneStale(runID string) error {
	if _, err := c.db.Exec(`DELETE FROM signatures WHERE last_seen_run <> ?`, runID); err != nil {
		return fmt.Errorf("cache: prune: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
