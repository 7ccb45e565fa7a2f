package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aegisx/aegisx/internal/config"
)

const jwtSecretSetting = "auth.jwt_secret"

// SettingsStore is the subset of the config store used for generated
// secrets.
type SettingsStore interface {
	GetSetting(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, name, value string) error
}

// ResolveJWTSecret returns configured when set. Otherwise it returns the
// secret persisted in the settings store, generating and storing one on
// first use so admin tokens survive restarts.
func ResolveJWTSecret(ctx context.Context, configured string, store SettingsStore) (string, error) {
	if configured != "" {
		return configured, nil
	}
	v, err := store.GetSetting(ctx, jwtSecretSetting)
	if err == nil && v != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, config.ErrNotFound) {
		return "", fmt.Errorf("load jwt secret: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if err := store.SetSetting(ctx, jwtSecretSetting, secret); err != nil {
		return "", fmt.Errorf("store jwt secret: %w", err)
	}
	return secret, nil
}
