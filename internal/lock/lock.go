// Package lock provides named mutual exclusion with a bounded lease, so a
// holder that never releases cannot block a name forever.
package lock

import (
	"context"
	"maps"
	"os"
	"slices"
	"sync"
	"time"
)

// Lease describes a held lock.
type Lease struct {
	Name      string    `json:"name"`
	LockedBy  string    `json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type entry struct {
	lease    Lease
	released chan struct{}
}

// Named is a set of named locks.
type Named struct {
	mu    sync.Mutex
	held  map[string]*entry
	owner string
	now   func() time.Time
}

// NewNamed creates an empty lock set. Leases are tagged with the host name.
func NewNamed() *Named {
	owner, _ := os.Hostname()
	return &Named{held: make(map[string]*entry), owner: owner, now: time.Now}
}

// Acquire blocks until name is free or its lease expired, then holds it
// for at most ttl. The returned function releases it; calling it after
// the lease was taken over is a no-op.
func (n *Named) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	for {
		release, wait, wake := n.try(name, ttl)
		if release != nil {
			return release, nil
		}

		timer := time.NewTimer(wake)
		select {
		case <-wait:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// TryAcquire takes name only if it is free right now.
func (n *Named) TryAcquire(name string, ttl time.Duration) (func(), bool) {
	release, _, _ := n.try(name, ttl)
	return release, release != nil
}

func (n *Named) try(name string, ttl time.Duration) (func(), <-chan struct{}, time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if cur, ok := n.held[name]; ok {
		if now.Before(cur.lease.ExpiresAt) {
			return nil, cur.released, cur.lease.ExpiresAt.Sub(now)
		}
		close(cur.released)
	}

	e := &entry{
		lease: Lease{
			Name:      name,
			LockedBy:  n.owner,
			LockedAt:  now,
			ExpiresAt: now.Add(ttl),
		},
		released: make(chan struct{}),
	}
	n.held[name] = e

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if n.held[name] == e {
				delete(n.held, name)
				close(e.released)
			}
		})
	}, nil, 0
}

// Held lists the current leases, sorted by name.
func (n *Named) Held() []Lease {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Lease, 0, len(n.held))
	for _, name := range slices.Sorted(maps.Keys(n.held)) {
		out = append(out, n.held[name].lease)
	}
	return out
}
