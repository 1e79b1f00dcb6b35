// Package kv provides the string-key JSON-value store rule bundles live
// in, with a SQLite-backed implementation, an in-memory implementation,
// and YAML seeding for edge-node bootstrap.
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Store is the KV surface the rule resolver reads and the control plane
// writes.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
}

// SQLStore persists keys in the control database's kv_bundles table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps the control DB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Get returns the raw value for key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_bundles WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return value, true, nil
}

// Put upserts a key.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_bundles (key, value, updated_at_ns) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ns = excluded.updated_at_ns`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("kv: put %q: %w", key, err)
	}
	return nil
}

// MemStore is an in-memory KV for tests and single-node setups.
type MemStore struct {
	m *xsync.Map[string, []byte]
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{m: xsync.NewMap[string, []byte]()}
}

// Get returns the value for key.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.m.Load(key)
	return v, ok, nil
}

// Put stores a key.
func (s *MemStore) Put(_ context.Context, key string, value []byte) error {
	s.m.Store(key, value)
	return nil
}
