// Package apikey issues and verifies API keys of the form
//
//	ak_{prefix}_{secret}
//
// where prefix is 8 lowercase hex characters used as a non-secret lookup
// identifier and secret is 64 lowercase hex characters (32 random bytes).
// Only a salted bcrypt hash of the full key is ever persisted.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aegisx/aegisx/internal/credential"
)

const (
	// KeyPrefix is the literal leading segment of every API key.
	KeyPrefix = "ak"

	// PrefixLength is the number of hex characters in the lookup prefix.
	PrefixLength = 8

	// SecretLength is the number of hex characters in the secret segment.
	SecretLength = 64

	// KeyLength is the fixed length of a full API key.
	KeyLength = len(KeyPrefix) + 1 + PrefixLength + 1 + SecretLength

	previewMarker = "****"
)

var keyPattern = regexp.MustCompile(`^ak_[a-f0-9]{8}_[a-f0-9]{64}$`)

// Credential is the result of issuing a key. FullSecret is shown to the
// caller exactly once and must never be stored; persist Prefix, Hash and
// Preview instead.
type Credential struct {
	FullSecret string
	Prefix     string
	Hash       string
	Preview    string
}

// Mask returns the log-safe form ak_{prefix}_****.
func (c *Credential) Mask() string {
	return MaskKey(c.FullSecret)
}

// String returns the masked key so a Credential never leaks through %v.
func (c *Credential) String() string { return c.Mask() }

// LogValue implements slog.LogValuer.
func (c *Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("prefix", c.Prefix),
		slog.String("preview", c.Preview),
	)
}

// FormatResult is the outcome of a structural key check.
type FormatResult struct {
	Valid  bool
	Prefix string
	Err    error
}

// ValidateFormat checks candidate against the fixed key pattern. It never
// touches the hash, so malformed input is rejected in constant work before
// any bcrypt comparison is attempted.
func ValidateFormat(candidate string) FormatResult {
	if candidate == "" {
		return FormatResult{Err: fmt.Errorf("%w: %w", credential.ErrFormat, credential.ErrEmpty)}
	}
	if len(candidate) != KeyLength || !keyPattern.MatchString(candidate) {
		return FormatResult{Err: fmt.Errorf("%w: expected ak_<8 hex>_<64 hex>", credential.ErrFormat)}
	}
	return FormatResult{
		Valid:  true,
		Prefix: candidate[len(KeyPrefix)+1 : len(KeyPrefix)+1+PrefixLength],
	}
}

// MaskKey renders a key safe for logs and terminals: the prefix stays
// visible and the secret is replaced. Input that is not a well-formed key is
// masked entirely.
func MaskKey(raw string) string {
	res := ValidateFormat(raw)
	if !res.Valid {
		return previewMarker
	}
	return KeyPrefix + "_" + res.Prefix + "_" + previewMarker
}

// Preview returns the display form of a secret: a fixed marker followed by
// its last four characters.
func Preview(secret string) string {
	if len(secret) < 4 {
		return previewMarker
	}
	return previewMarker + secret[len(secret)-4:]
}

// generate returns a fresh full key together with its prefix and secret.
func generate() (full, prefix, secret string, err error) {
	p := make([]byte, PrefixLength/2)
	if _, err := rand.Read(p); err != nil {
		return "", "", "", fmt.Errorf("generate key prefix: %w", err)
	}
	s := make([]byte, SecretLength/2)
	if _, err := rand.Read(s); err != nil {
		return "", "", "", fmt.Errorf("generate key secret: %w", err)
	}
	prefix = hex.EncodeToString(p)
	secret = hex.EncodeToString(s)
	return KeyPrefix + "_" + prefix + "_" + secret, prefix, secret, nil
}

// Issue generates a new key and hashes it at the given bcrypt cost. It has
// no persistence side effects.
func Issue(cost int) (*Credential, error) {
	full, prefix, secret, err := generate()
	if err != nil {
		return nil, err
	}
	hash, err := HashSecret(full, cost)
	if err != nil {
		return nil, err
	}
	return &Credential{
		FullSecret: full,
		Prefix:     prefix,
		Hash:       hash,
		Preview:    Preview(secret),
	}, nil
}
