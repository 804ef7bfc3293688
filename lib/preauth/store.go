// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package preauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/autosd-foundation/autosd/lib/clock"
	"github.com/autosd-foundation/autosd/lib/sqlitepool"
)

// ErrGrantNotFound means the requested grant id is not in the store.
var ErrGrantNotFound = errors.New("preauth: grant not found")

// Status is a grant's lifecycle state as derived at read time. Grants
// only move forward: Active → Expired (time) or Active → Revoked
// (explicit). Both terminal states remain queryable forever.
type Status string

const (
	// StatusActive means the grant is neither revoked nor expired.
	StatusActive Status = "active"

	// StatusExpired means the current time has reached ExpiresAt.
	StatusExpired Status = "expired"

	// StatusRevoked means the grant id is in the revocation ledger.
	// Revocation wins over expiry in status reporting.
	StatusRevoked Status = "revoked"
)

// Revocation is one entry in the monotonic revocation ledger.
type Revocation struct {
	GrantID   string
	RevokedAt time.Time
	Reason    string
}

// StoreConfig holds the parameters for opening a grant store.
type StoreConfig struct {
	// Path is the SQLite database file holding grants and the
	// revocation ledger.
	Path string

	// Clock provides the current time for revocation stamps and
	// status derivation.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store persists issued grants and the revocation ledger. It is the
// single source of truth for every verification: all reads go to the
// database, never to an in-process snapshot, so a revocation is
// visible to every subsequent check the moment its transaction
// commits.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS grants (
	id         TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	signature  BLOB NOT NULL,
	key_id     TEXT NOT NULL,
	issued_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_grants_expires ON grants(expires_at);

CREATE TABLE IF NOT EXISTS revocations (
	grant_id   TEXT PRIMARY KEY,
	revoked_at INTEGER NOT NULL,
	reason     TEXT NOT NULL DEFAULT ''
);
`

// OpenStore opens (creating if necessary) the grant store database.
// The caller must call Close when done.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("preauth: store Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("preauth: opening grant store: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Path returns the database file backing the store.
func (s *Store) Path() string {
	return s.pool.Path()
}

// Put persists a signed grant. Grants are immutable: inserting an id
// that already exists is an error, never an update.
func (s *Store) Put(ctx context.Context, grant *Grant) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO grants (id, payload, signature, key_id, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{grant.ID, grant.Raw, grant.Signature, grant.KeyID, grant.IssuedAt, grant.ExpiresAt},
		})
	if err != nil {
		return fmt.Errorf("preauth: storing grant %s: %w", grant.ID, err)
	}
	return nil
}

// Get loads one grant by id. The returned grant carries the exact
// payload bytes and signature that were persisted at issuance; callers
// verify the signature over those bytes before trusting any decoded
// field. Returns ErrGrantNotFound if the id is unknown.
func (s *Store) Get(ctx context.Context, grantID string) (*Grant, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var raw, signature []byte
	found := false
	err = sqlitex.Execute(conn,
		`SELECT payload, signature FROM grants WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{grantID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				raw = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, raw)
				signature = make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, signature)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("preauth: loading grant %s: %w", grantID, err)
	}
	if !found {
		return nil, ErrGrantNotFound
	}
	return DecodeGrant(raw, signature)
}

// Revoke appends the grant id to the revocation ledger. Idempotent:
// revoking an already-revoked id succeeds without touching the
// existing entry, so the original revocation timestamp and reason are
// never rewritten. The ledger is monotonic — there is no API to remove
// an entry.
func (s *Store) Revoke(ctx context.Context, grantID, reason string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO revocations (grant_id, revoked_at, reason) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{grantID, s.clock.Now().Unix(), reason},
		})
	if err != nil {
		return fmt.Errorf("preauth: revoking grant %s: %w", grantID, err)
	}
	return nil
}

// Revocation returns the ledger entry for a grant id, or nil if the
// grant has not been revoked. Always a fresh read: revocation state is
// never cached, so a revoke committed by a concurrent process is
// visible to the very next call.
func (s *Store) Revocation(ctx context.Context, grantID string) (*Revocation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var entry *Revocation
	err = sqlitex.Execute(conn,
		`SELECT revoked_at, reason FROM revocations WHERE grant_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{grantID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry = &Revocation{
					GrantID:   grantID,
					RevokedAt: time.Unix(stmt.ColumnInt64(0), 0),
					Reason:    stmt.ColumnText(1),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("preauth: reading revocation for %s: %w", grantID, err)
	}
	return entry, nil
}

// ListEntry pairs a grant with its derived status for enumeration.
type ListEntry struct {
	Grant  *Grant
	Status Status
}

// List enumerates grants ordered by issuance time (newest first).
// With activeOnly, expired and revoked grants are filtered out; the
// full history remains in the store either way.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]ListEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	revoked := make(map[string]bool)
	err = sqlitex.Execute(conn, `SELECT grant_id FROM revocations`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			revoked[stmt.ColumnText(0)] = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("preauth: listing revocations: %w", err)
	}

	now := s.clock.Now()
	var entries []ListEntry
	var decodeErr error
	err = sqlitex.Execute(conn,
		`SELECT payload, signature FROM grants ORDER BY issued_at DESC, id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				raw := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, raw)
				signature := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, signature)

				grant, err := DecodeGrant(raw, signature)
				if err != nil {
					decodeErr = err
					return err
				}

				status := StatusActive
				switch {
				case revoked[grant.ID]:
					status = StatusRevoked
				case grant.Expired(now, 0):
					status = StatusExpired
				}
				if activeOnly && status != StatusActive {
					return nil
				}
				entries = append(entries, ListEntry{Grant: grant, Status: status})
				return nil
			},
		})
	if err != nil {
		if decodeErr != nil {
			return nil, decodeErr
		}
		return nil, fmt.Errorf("preauth: listing grants: %w", err)
	}
	return entries, nil
}

// StatusOf derives a single grant's lifecycle status with a fresh
// revocation read.
func (s *Store) StatusOf(ctx context.Context, grant *Grant) (Status, error) {
	revocation, err := s.Revocation(ctx, grant.ID)
	if err != nil {
		return "", err
	}
	switch {
	case revocation != nil:
		return StatusRevoked, nil
	case grant.Expired(s.clock.Now(), 0):
		return StatusExpired, nil
	default:
		return StatusActive, nil
	}
}
