package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/aegisx/aegisx/internal/model"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// StoreOptions selects the database behind a Store. The zero value is an
// in-memory SQLite database.
type StoreOptions struct {
	Driver  string // sqlite (default), postgres or mysql
	DSN     string // required for postgres and mysql
	DataDir string // sqlite only; empty means in-memory
}

// Store persists API key records, license grants and settings.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens and migrates the configured database.
func NewStore(opts StoreOptions) (*Store, error) {
	driver := strings.ToLower(opts.Driver)
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(opts.DataDir)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("store.dsn is required for driver %q", driver)
		}
		db, err = sqlx.Connect("pgx", opts.DSN)
	case DriverMySQL:
		db, err = openMySQL(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}
	return s, nil
}

func openSQLite(dataDir string) (*sqlx.DB, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "aegisx.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	return db, nil
}

// openMySQL forces parseTime so DATETIME columns scan into time.Time.
func openMySQL(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("store.dsn is required for driver \"mysql\"")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return sqlx.Connect("mysql", cfg.FormatDSN())
}

// Driver returns the normalized driver name.
func (s *Store) Driver() string { return s.driver }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. KeyHash, KeyPrefix and Preview
// must already be set. ID and CreatedAt are populated after insert. A
// prefix that is already taken returns ErrConflict.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if key.Scopes == nil {
		key.Scopes = model.Scopes{}
	}

	const q = `INSERT INTO api_keys
		(key_hash, key_prefix, preview, label, scopes, expires_at, created_at)
		VALUES
		(:key_hash, :key_prefix, :preview, :label, :scopes, :expires_at, :created_at)`

	if s.driver == DriverPostgres {
		stmt, err := s.db.PrepareNamedContext(ctx, q+" RETURNING id")
		if err != nil {
			return fmt.Errorf("prepare api key insert: %w", err)
		}
		defer stmt.Close()
		if err := stmt.GetContext(ctx, &key.ID, key); err != nil {
			return fmt.Errorf("insert api key: %w", classify(err))
		}
		return nil
	}

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", classify(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByPrefix looks up an API key by its lookup prefix, revoked or not.
func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE key_prefix = ?")
	if err := s.db.GetContext(ctx, &key, q, prefix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	keys := []model.APIKey{}
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKeyByPrefix stamps revoked_at on an active key. Revoking an
// unknown or already revoked key returns ErrNotFound.
func (s *Store) RevokeAPIKeyByPrefix(ctx context.Context, prefix string) error {
	now := time.Now().UTC()
	q := s.db.Rebind("UPDATE api_keys SET revoked_at = ? WHERE key_prefix = ? AND revoked_at IS NULL")
	result, err := s.db.ExecContext(ctx, q, now, prefix)
	if err != nil {
		return fmt.Errorf("revoke api key by prefix: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	q := s.db.Rebind("UPDATE api_keys SET last_used = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, now, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value stored under name, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var v string
	q := s.db.Rebind("SELECT value FROM settings WHERE name = ?")
	if err := s.db.GetContext(ctx, &v, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting %s: %w", name, err)
	}
	return v, nil
}

// SetSetting stores value under name, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set setting: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, tx.Rebind("UPDATE settings SET value = ? WHERE name = ?"), value, name)
	if err != nil {
		return fmt.Errorf("update setting %s: %w", name, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO settings (name, value) VALUES (?, ?)"), name, value); err != nil {
			return fmt.Errorf("insert setting %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// License grants
// ---------------------------------------------------------------------------

// ActivatedAt returns the first recorded activation of serial, recording now
// if there is none. It implements license.GrantStore.
func (s *Store) ActivatedAt(ctx context.Context, serial string, now time.Time) (time.Time, error) {
	t, err := s.grantTime(ctx, serial)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return time.Time{}, err
	}

	now = now.UTC().Truncate(time.Microsecond)
	q := s.db.Rebind("INSERT INTO license_grants (serial, activated_at) VALUES (?, ?)")
	if _, err := s.db.ExecContext(ctx, q, serial, now); err != nil {
		if errors.Is(classify(err), ErrConflict) {
			// Another process recorded it first.
			return s.grantTime(ctx, serial)
		}
		return time.Time{}, fmt.Errorf("record license grant: %w", err)
	}
	return now, nil
}

// Forget removes the grant record for serial. It implements
// license.GrantStore.
func (s *Store) Forget(ctx context.Context, serial string) error {
	q := s.db.Rebind("DELETE FROM license_grants WHERE serial = ?")
	if _, err := s.db.ExecContext(ctx, q, serial); err != nil {
		return fmt.Errorf("forget license grant: %w", err)
	}
	return nil
}

func (s *Store) grantTime(ctx context.Context, serial string) (time.Time, error) {
	var t time.Time
	q := s.db.Rebind("SELECT activated_at FROM license_grants WHERE serial = ?")
	if err := s.db.GetContext(ctx, &t, q, serial); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("get license grant: %w", err)
	}
	return t.UTC(), nil
}

// classify maps unique-constraint violations from any supported driver onto
// ErrConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), // sqlite
		strings.Contains(msg, "SQLSTATE 23505"), // postgres
		strings.Contains(msg, "Error 1062"):     // mysql
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
