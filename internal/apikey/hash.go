package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultCost is the production bcrypt work factor for API key hashes.
const DefaultCost = 12

// digest maps a full key onto bcrypt's 72-byte input window. Keys are 76
// bytes long, so hashing them directly would either be rejected or silently
// truncated; the hex SHA-256 digest is 64 bytes and keeps every character
// significant.
func digest(key string) []byte {
	sum := sha256.Sum256([]byte(key))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}

// HashSecret returns a salted bcrypt hash of key at the given cost. Each call
// produces a different hash for the same key.
func HashSecret(key string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword(digest(key), cost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(h), nil
}

// VerifySecret reports whether candidate matches storedHash. It never panics
// and never returns an error: a corrupt hash, an empty input or any failure
// inside the hash library is reported as false.
func VerifySecret(candidate, storedHash string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if candidate == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), digest(candidate)) == nil
}

// Hasher runs bcrypt work on a bounded number of concurrent slots so that a
// burst of key verifications cannot occupy every CPU a server has.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewHasher returns a Hasher that hashes at cost and allows at most workers
// concurrent bcrypt operations. workers <= 0 means GOMAXPROCS.
func NewHasher(cost, workers int) *Hasher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(int64(workers))}
}

// Cost returns the bcrypt work factor used for new hashes.
func (h *Hasher) Cost() int { return h.cost }

// Hash hashes key once a slot is free. It returns ctx.Err() if the context
// ends while waiting.
func (h *Hasher) Hash(ctx context.Context, key string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)
	return HashSecret(key, h.cost)
}

// Verify compares candidate with storedHash once a slot is free. A context
// that ends while waiting fails closed.
func (h *Hasher) Verify(ctx context.Context, candidate, storedHash string) bool {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)
	return VerifySecret(candidate, storedHash)
}

// Issue generates a new key and hashes it on the pool.
func (h *Hasher) Issue(ctx context.Context) (*Credential, error) {
	full, prefix, secret, err := generate()
	if err != nil {
		return nil, err
	}
	hash, err := h.Hash(ctx, full)
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
