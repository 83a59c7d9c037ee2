package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long a waiter blocks on its leader.
const DefaultLockTimeout = 30 * time.Second

type group struct {
	done chan struct{}
	body []byte
}

// Coalescer collapses concurrent misses on the same key into one computation.
// The first caller for a key becomes the leader; later callers wait for the
// leader's result. Waiters that receive nil compute the value themselves.
//
// Coalescing is per process. Different processes may each compute once.
type Coalescer struct {
	mu     sync.Mutex
	groups map[string]*group
}

// NewCoalescer creates an empty coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{groups: make(map[string]*group)}
}

// Lease identifies one leadership of a key. Only the leader holding the
// current lease can resolve the key's group.
type Lease struct {
	key string
	g   *group
}

// Key returns the key the lease was granted for.
func (l Lease) Key() string {
	return l.key
}

// TryBecomeLeader registers the caller as leader for key. It returns false
// when a group for key is already pending.
func (c *Coalescer) TryBecomeLeader(key string) (Lease, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.groups[key]; ok {
		return Lease{}, false
	}
	g := &group{done: make(chan struct{})}
	c.groups[key] = g
	CoalescerPending.Inc()
	return Lease{key: key, g: g}, true
}

// Await blocks until the leader for key resolves, timeout elapses or ctx is done.
// It returns nil when no group is pending, on timeout, on cancellation and when
// the leader resolved without a cacheable body.
func (c *Coalescer) Await(ctx context.Context, key string, timeout time.Duration) []byte {
	c.mu.Lock()
	g, ok := c.groups[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
		return g.body
	case <-timer.C:
		CoalescerTimeouts.Inc()
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Resolve publishes body to every waiter of the lease's group and removes it.
// A lease whose group was already resolved or dropped by Reset is a no-op, so
// a late leader never resolves a newer group for the same key.
func (c *Coalescer) Resolve(l Lease, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[l.key]
	if !ok || l.g == nil || g != l.g {
		return
	}
	delete(c.groups, l.key)
	g.body = body
	close(g.done)
	CoalescerPending.Dec()
}

// Pending returns the number of keys with an active leader.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}

// Reset releases every pending waiter with nil and forgets all groups.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, g := range c.groups {
		delete(c.groups, key)
		close(g.done)
		CoalescerPending.Dec()
	}
}
