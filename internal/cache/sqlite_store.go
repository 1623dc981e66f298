package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	value BLOB,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	access_count INTEGER DEFAULT 0,
	last_accessed INTEGER NOT NULL,
	tags TEXT,
	size_bytes INTEGER
);

CREATE INDEX IF NOT EXISTS idx_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_tags ON cache_entries(tags);
CREATE INDEX IF NOT EXISTS idx_last_accessed ON cache_entries(last_accessed);
`

// SQLiteStore keeps cache entries in a single SQLite table. Timestamps are
// stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// one connection keeps transactions serialized and :memory: databases shared
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return store, nil
}

func (store *SQLiteStore) Close() error {
	return store.db.Close()
}

func (store *SQLiteStore) Ping(ctx context.Context) error {
	return store.db.PingContext(ctx)
}

func (store *SQLiteStore) Get(ctx context.Context, key string, now time.Time) (*Entry, error) {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT value, created_at, expires_at, access_count, last_accessed, tags, size_bytes
		FROM cache_entries WHERE key = ? AND expires_at >= ?
	`, key, now.UnixNano())

	entry := &Entry{Key: key}
	var createdAt, expiresAt, lastAccessed int64
	var tagsJSON sql.NullString
	err = row.Scan(&entry.Value, &createdAt, &expiresAt, &entry.AccessCount, &lastAccessed, &tagsJSON, &entry.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCacheMiss.WithMetadata("key", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cache_entries SET access_count = access_count + 1, last_accessed = ? WHERE key = ?
	`, now.UnixNano(), key); err != nil {
		return nil, fmt.Errorf("failed to update cache access: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cache access: %w", err)
	}

	entry.CreatedAt = time.Unix(0, createdAt)
	entry.ExpiresAt = time.Unix(0, expiresAt)
	entry.AccessCount++
	entry.LastAccessed = now
	entry.Tags = decodeTags(tagsJSON.String)
	return entry, nil
}

func (store *SQLiteStore) Put(ctx context.Context, entry *Entry) error {
	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = store.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries
		(key, value, created_at, expires_at, access_count, last_accessed, tags, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Key, entry.Value, entry.CreatedAt.UnixNano(), entry.ExpiresAt.UnixNano(),
		entry.AccessCount, entry.LastAccessed.UnixNano(), string(tagsJSON), entry.SizeBytes)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (store *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := store.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (store *SQLiteStore) DeleteByTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT key, tags FROM cache_entries")
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache tags: %w", err)
	}

	var matched []string
	for rows.Next() {
		var key string
		var tagsJSON sql.NullString
		if err := rows.Scan(&key, &tagsJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read cache tags: %w", err)
		}
		entry := Entry{Tags: decodeTags(tagsJSON.String)}
		if entry.HasAnyTag(tags) {
			matched = append(matched, key)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache tags: %w", err)
	}

	if len(matched) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(matched)), ",")
		args := make([]interface{}, len(matched))
		for i, key := range matched {
			args[i] = key
		}
		query := fmt.Sprintf("DELETE FROM cache_entries WHERE key IN (%s)", placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to delete tagged entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tag deletion: %w", err)
	}
	return matched, nil
}

func (store *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := store.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at < ?", now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return result.RowsAffected()
}

func (store *SQLiteStore) EvictToSize(ctx context.Context, maxBytes int64) (int64, error) {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT SUM(size_bytes) FROM cache_entries").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to measure cache size: %w", err)
	}
	if total.Int64 <= maxBytes {
		return 0, nil
	}

	rows, err := tx.QueryContext(ctx, "SELECT key, size_bytes FROM cache_entries ORDER BY last_accessed ASC, key ASC")
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	var victims []string
	remaining := total.Int64
	for rows.Next() && remaining > maxBytes {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to read cache entry: %w", err)
		}
		victims = append(victims, key)
		remaining -= size
	}
	rows.Close()

	for _, key := range victims {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
			return 0, fmt.Errorf("failed to evict cache entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit eviction: %w", err)
	}
	return int64(len(victims)), nil
}

func (store *SQLiteStore) Usage(ctx context.Context) (int64, int64, error) {
	var entries int64
	var bytes sql.NullInt64
	err := store.db.QueryRowContext(ctx, "SELECT COUNT(*), SUM(size_bytes) FROM cache_entries").Scan(&entries, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query cache usage: %w", err)
	}
	return entries, bytes.Int64, nil
}

func (store *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := store.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
