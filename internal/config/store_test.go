package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreOptions{}) // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newKey(prefix, label string) *model.APIKey {
	return &model.APIKey{
		KeyHash:   "$2a$04$" + prefix,
		KeyPrefix: prefix,
		Preview:   "****beef",
		Label:     label,
		Scopes:    model.Scopes{{Resource: "users", Actions: []string{"read", "write"}}},
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	key := newKey("0123abcd", "Test Key")
	key.ExpiresAt = &expires
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if key.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	// GetAPIKeyByPrefix
	got, err := s.GetAPIKeyByPrefix(ctx, "0123abcd")
	if err != nil {
		t.Fatalf("GetAPIKeyByPrefix: %v", err)
	}
	if got.Label != "Test Key" {
		t.Errorf("got label %q, want %q", got.Label, "Test Key")
	}
	if got.KeyHash != key.KeyHash {
		t.Errorf("got hash %q, want %q", got.KeyHash, key.KeyHash)
	}
	if got.Preview != "****beef" {
		t.Errorf("got preview %q, want %q", got.Preview, "****beef")
	}
	if !apikey.Authorize(got.Scopes, "users", "write") {
		t.Errorf("scopes did not round-trip: %v", got.Scopes)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("got expires_at %v, want %v", got.ExpiresAt, expires)
	}
	if got.Revoked() {
		t.Error("new key should not be revoked")
	}

	// ListAPIKeys
	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("got %d keys, want 1", len(keys))
	}

	// UpdateAPIKeyLastUsed
	if err := s.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}
	got, _ = s.GetAPIKeyByPrefix(ctx, "0123abcd")
	if got.LastUsed == nil {
		t.Error("expected last_used to be set")
	}
	if err := s.UpdateAPIKeyLastUsed(ctx, 9999); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestGetAPIKeyByPrefix_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetAPIKeyByPrefix(context.Background(), "ffffffff"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAPIKey_DuplicatePrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateAPIKey(ctx, newKey("deadbeef", "first")); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	err := s.CreateAPIKey(ctx, newKey("deadbeef", "second"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate prefix, got %v", err)
	}
}

func TestCreateAPIKey_LegacyScopesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, key_prefix, preview, label, scopes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"$2a$04$legacy", "aaaabbbb", "****0000", "legacy", `{"orders":["read"]}`, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	got, err := s.GetAPIKeyByPrefix(ctx, "aaaabbbb")
	if err != nil {
		t.Fatalf("GetAPIKeyByPrefix: %v", err)
	}
	if len(got.Scopes) != 1 || got.Scopes[0].Resource != "orders" {
		t.Errorf("legacy scopes not normalized: %v", got.Scopes)
	}
}

func TestRevokeAPIKeyByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := newKey("1111aaaa", "Prefix Test Key")
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	// Revoke by prefix - should succeed.
	if err := s.RevokeAPIKeyByPrefix(ctx, "1111aaaa"); err != nil {
		t.Fatalf("RevokeAPIKeyByPrefix: %v", err)
	}

	got, err := s.GetAPIKeyByPrefix(ctx, "1111aaaa")
	if err != nil {
		t.Fatalf("GetAPIKeyByPrefix: %v", err)
	}
	if !got.Revoked() {
		t.Error("expected key to be revoked")
	}

	// Revoking again should return ErrNotFound (already revoked).
	if err := s.RevokeAPIKeyByPrefix(ctx, "1111aaaa"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second revoke, got %v", err)
	}

	// Revoking a nonexistent prefix should return ErrNotFound.
	if err := s.RevokeAPIKeyByPrefix(ctx, "ffffffff"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown prefix, got %v", err)
	}
}

func TestRevokeAPIKeyByPrefix_MultipleKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateAPIKey(ctx, newKey("aaaa0001", "Key 1")); err != nil {
		t.Fatalf("CreateAPIKey key1: %v", err)
	}
	if err := s.CreateAPIKey(ctx, newKey("aaaa0002", "Key 2")); err != nil {
		t.Fatalf("CreateAPIKey key2: %v", err)
	}

	// Revoke key1 by prefix - key2 should remain active.
	if err := s.RevokeAPIKeyByPrefix(ctx, "aaaa0001"); err != nil {
		t.Fatalf("RevokeAPIKeyByPrefix: %v", err)
	}

	got1, _ := s.GetAPIKeyByPrefix(ctx, "aaaa0001")
	if !got1.Revoked() {
		t.Error("key1 should be revoked")
	}
	got2, _ := s.GetAPIKeyByPrefix(ctx, "aaaa0002")
	if got2.Revoked() {
		t.Error("key2 should still be active")
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "jwt_secret"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting(ctx, "jwt_secret", "one"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "jwt_secret", "two"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, err := s.GetSetting(ctx, "jwt_secret")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "two" {
		t.Errorf("got %q, want %q", v, "two")
	}
}

func TestLicenseGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := s.ActivatedAt(ctx, "TRIAL001", t0)
	if err != nil {
		t.Fatalf("ActivatedAt: %v", err)
	}
	if !first.Equal(t0) {
		t.Errorf("first activation = %v, want %v", first, t0)
	}

	later, err := s.ActivatedAt(ctx, "TRIAL001", t0.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("ActivatedAt again: %v", err)
	}
	if !later.Equal(t0) {
		t.Errorf("activation moved to %v, want %v", later, t0)
	}

	if err := s.Forget(ctx, "TRIAL001"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	fresh, err := s.ActivatedAt(ctx, "TRIAL001", t0.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("ActivatedAt after forget: %v", err)
	}
	if !fresh.Equal(t0.Add(72 * time.Hour)) {
		t.Errorf("activation after forget = %v, want %v", fresh, t0.Add(72*time.Hour))
	}
}

func TestNewStore_FileBacked(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(StoreOptions{DataDir: dir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.CreateAPIKey(ctx, newKey("cafe0001", "persisted")); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	s.Close()

	s, err = NewStore(StoreOptions{Driver: "SQLite", DataDir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetAPIKeyByPrefix(ctx, "cafe0001"); err != nil {
		t.Errorf("key not persisted in %s: %v", filepath.Join(dir, "aegisx.db"), err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewStore_Errors(t *testing.T) {
	if _, err := NewStore(StoreOptions{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := NewStore(StoreOptions{Driver: DriverPostgres}); err == nil {
		t.Error("expected error for postgres without dsn")
	}
	if _, err := NewStore(StoreOptions{Driver: DriverMySQL}); err == nil {
		t.Error("expected error for mysql without dsn")
	}
	if _, err := NewStore(StoreOptions{Driver: DriverMySQL, DSN: "::not a dsn"}); err == nil {
		t.Error("expected error for malformed mysql dsn")
	}
}
