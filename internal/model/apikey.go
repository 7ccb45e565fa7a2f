package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegisx/aegisx/internal/apikey"
	"github.com/aegisx/aegisx/internal/expiry"
)

// APIKey is the persisted record of an issued API key. The full key is
// never stored; only the bcrypt hash, the lookup prefix and a masked preview.
type APIKey struct {
	ID        int64      `json:"id" db:"id"`
	KeyHash   string     `json:"-" db:"key_hash"` // bcrypt, never expose
	KeyPrefix string     `json:"key_prefix" db:"key_prefix"`
	Preview   string     `json:"preview" db:"preview"`
	Label     string     `json:"label" db:"label"`
	Scopes    Scopes     `json:"scopes" db:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool { return k.RevokedAt != nil }

// Status summarises the key for listings: active, revoked or expired.
func (k *APIKey) Status(now time.Time) string {
	switch {
	case k.Revoked():
		return "revoked"
	case expiry.IsExpired(k.ExpiresAt, now):
		return "expired"
	default:
		return "active"
	}
}

// Scopes is the canonical scope list of a key. It is stored as a JSON
// column; rows written in the legacy resource-to-actions object form are
// normalized when read.
type Scopes []apikey.Scope

// Value implements driver.Valuer.
func (s Scopes) Value() (driver.Value, error) {
	data, err := json.Marshal(apikey.CanonicalSpec(s...))
	if err != nil {
		return nil, fmt.Errorf("encode scopes: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *Scopes) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = Scopes{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan scopes: unsupported type %T", src)
	}
	var spec apikey.ScopeSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	*s = spec.Normalize()
	return nil
}
