// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty Path: expected error")
	}
}

func TestOnConnectSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	pool, err := Open(Config{
		Path: path,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn,
				`CREATE TABLE IF NOT EXISTS items (id TEXT PRIMARY KEY, value INTEGER);`, nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO items (id, value) VALUES (?, ?)`, &sqlitex.ExecOptions{
		Args: []any{"a", 1},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got int64
	err = sqlitex.Execute(conn, `SELECT value FROM items WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{"a"},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != 1 {
		t.Errorf("value = %d, want 1", got)
	}
}

func TestTakePutCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycle.db")
	pool, err := Open(Config{Path: path, PoolSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		conn, err := pool.Take(ctx)
		if err != nil {
			t.Fatalf("Take %d: %v", i, err)
		}
		pool.Put(conn)
	}
}
