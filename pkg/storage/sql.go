package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLKV keeps every key in one glimpse_kv table. It works against SQLite for
// a single-profile agent and PostgreSQL when several agents share a database.
type SQLKV struct {
	db      *sql.DB
	dialect string
}

// OpenSQLKV opens the configured database, pings it and creates the table.
func OpenSQLKV(ctx context.Context, cfg Config) (*SQLKV, error) {
	driver := "postgres"
	if cfg.Type == TypeSQLite {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, cfg.SQLDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Type, err)
	}
	switch {
	case cfg.Type == TypeSQLite:
		// SQLite serializes writers anyway; one connection also keeps an
		// in-memory database alive across calls.
		db.SetMaxOpenConns(1)
	case cfg.SQLMaxConns > 0:
		db.SetMaxOpenConns(cfg.SQLMaxConns)
	}

	timeout := cfg.SQLTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Type, err)
	}

	kv := NewSQLKV(db, cfg.Type)
	if err := kv.Migrate(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

// NewSQLKV wraps an open database. dialect is TypeSQLite or TypePostgres.
func NewSQLKV(db *sql.DB, dialect string) *SQLKV {
	return &SQLKV{db: db, dialect: dialect}
}

// Migrate creates the backing table if needed.
func (s *SQLKV) Migrate(ctx context.Context) error {
	blob, ts := "BLOB", "TIMESTAMP"
	if s.dialect == TypePostgres {
		blob, ts = "BYTEA", "TIMESTAMPTZ"
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS glimpse_kv (
		entry_key TEXT PRIMARY KEY,
		entry_value %s NOT NULL,
		updated_at %s NOT NULL
	)`, blob, ts)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create glimpse_kv table: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLKV) rebind(query string) string {
	if s.dialect != TypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT entry_value FROM glimpse_kv WHERE entry_key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLKV) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO glimpse_kv (entry_key, entry_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (entry_key) DO UPDATE SET entry_value = excluded.entry_value, updated_at = excluded.updated_at`),
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM glimpse_kv WHERE entry_key = ?`), key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLKV) Close() error {
	return s.db.Close()
}
