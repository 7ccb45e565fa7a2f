package config

import (
	"fmt"
	"strings"
)

// column types per driver, substituted into the migration templates.
var dialects = map[string]*strings.Replacer{
	DriverSQLite: strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "DATETIME",
		"{{now}}", "CURRENT_TIMESTAMP",
	),
	DriverPostgres: strings.NewReplacer(
		"{{id}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
		"{{now}}", "CURRENT_TIMESTAMP",
	),
	DriverMySQL: strings.NewReplacer(
		"{{id}}", "BIGINT AUTO_INCREMENT PRIMARY KEY",
		"{{ts}}", "DATETIME(6)",
		"{{now}}", "CURRENT_TIMESTAMP(6)",
	),
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id {{id}},
		key_hash VARCHAR(255) NOT NULL,
		key_prefix VARCHAR(16) NOT NULL UNIQUE,
		preview VARCHAR(16) NOT NULL DEFAULT '',
		label VARCHAR(255) NOT NULL DEFAULT '',
		scopes TEXT NOT NULL,
		expires_at {{ts}} NULL,
		revoked_at {{ts}} NULL,
		created_at {{ts}} NOT NULL DEFAULT {{now}},
		last_used {{ts}} NULL
	)`,

	`CREATE TABLE IF NOT EXISTS settings (
		name VARCHAR(191) PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	// Original activation instant per license serial; anchors trial expiry.
	`CREATE TABLE IF NOT EXISTS license_grants (
		serial VARCHAR(64) PRIMARY KEY,
		activated_at {{ts}} NOT NULL
	)`,
}

func (s *Store) migrate() error {
	r := dialects[s.driver]
	for _, tmpl := range migrations {
		m := r.Replace(tmpl)
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
