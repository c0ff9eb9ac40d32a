// Package store provides the SQLite-backed durable stores behind the
// capability surface: namespaced skill-local/user-preference key-value
// storage and the structured knowledge/memory store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/stewardhq/steward/pkg/types/host"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS memory (
    id         TEXT PRIMARY KEY,
    content    TEXT NOT NULL,
    tags       TEXT NOT NULL DEFAULT '[]',
    meta       TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);
`

// SQLiteStore implements host.KVStore and host.MemoryStore on one database.
type SQLiteStore struct {
	db *sqlx.DB
}

var (
	_ host.KVStore     = (*SQLiteStore)(nil)
	_ host.MemoryStore = (*SQLiteStore)(nil)
)

// Open opens (creating if needed) the steward database at dbPath.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to execute %s", pragma)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get reads one key from a namespace. ok=false means the key is absent.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM kv WHERE namespace = ? AND key = ?", namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to get value")
	}
	return value, true, nil
}

// Set upserts one key in a namespace.
func (s *SQLiteStore) Set(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC())
	return errors.Wrap(err, "failed to set value")
}

// Delete removes one key from a namespace. Deleting an absent key is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE namespace = ? AND key = ?", namespace, key)
	return errors.Wrap(err, "failed to delete value")
}

// List returns every key and value in a namespace.
func (s *SQLiteStore) List(ctx context.Context, namespace string) (map[string]string, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT key, value FROM kv WHERE namespace = ? ORDER BY key", namespace); err != nil {
		return nil, errors.Wrap(err, "failed to list values")
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

type memoryRow struct {
	ID        string    `db:"id"`
	Content   string    `db:"content"`
	Tags      string    `db:"tags"`
	Meta      string    `db:"meta"`
	CreatedAt time.Time `db:"created_at"`
}

// Search runs a substring query over stored documents, newest first.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]host.Document, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT id, content, tags, meta, created_at FROM memory WHERE content LIKE ? ORDER BY created_at DESC LIMIT ?",
		"%"+query+"%", limit); err != nil {
		return nil, errors.Wrap(err, "failed to search memory")
	}

	docs := make([]host.Document, 0, len(rows))
	for _, r := range rows {
		doc := host.Document{ID: r.ID, Content: r.Content}
		if err := json.Unmarshal([]byte(r.Tags), &doc.Tags); err != nil {
			return nil, errors.Wrapf(err, "corrupt tags for document %s", r.ID)
		}
		if err := json.Unmarshal([]byte(r.Meta), &doc.Meta); err != nil {
			return nil, errors.Wrapf(err, "corrupt meta for document %s", r.ID)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Store writes a document, assigning an id when the caller supplied none.
func (s *SQLiteStore) Store(ctx context.Context, doc host.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	tags, err := json.Marshal(doc.Tags)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode tags")
	}
	if doc.Tags == nil {
		tags = []byte("[]")
	}
	meta, err := json.Marshal(doc.Meta)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode meta")
	}
	if doc.Meta == nil {
		meta = []byte("{}")
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memory (id, content, tags, meta, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET content = excluded.content, tags = excluded.tags, meta = excluded.meta`,
		doc.ID, doc.Content, string(tags), string(meta), time.Now().UTC()); err != nil {
		return "", errors.Wrap(err, "failed to store document")
	}
	return doc.ID, nil
}
