package license

import (
	"context"
	"sync"
	"time"
)

// GrantStore remembers when each serial was first activated, so a trial's
// expiry stays anchored to that instant across validations.
type GrantStore interface {
	// ActivatedAt returns the recorded activation instant for serial,
	// recording now first if the serial has not been seen.
	ActivatedAt(ctx context.Context, serial string, now time.Time) (time.Time, error)
	// Forget drops the record for serial.
	Forget(ctx context.Context, serial string) error
}

// MemoryGrants is an in-process GrantStore.
type MemoryGrants struct {
	mu     sync.Mutex
	grants map[string]time.Time
}

func NewMemoryGrants() *MemoryGrants {
	return &MemoryGrants{grants: make(map[string]time.Time)}
}

func (g *MemoryGrants) ActivatedAt(_ context.Context, serial string, now time.Time) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.grants[serial]; ok {
		return t, nil
	}
	t := now.UTC()
	g.grants[serial] = t
	return t, nil
}

func (g *MemoryGrants) Forget(_ context.Context, serial string) error {
	g.mu.Lock()
	delete(g.grants, serial)
	g.mu.Unlock()
	return nil
}
