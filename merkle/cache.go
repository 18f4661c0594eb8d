package merkle

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pinmesh/pinmesh/hashindex"
)

// DefaultCacheTTL bounds how long a built tree may be served without a
// rebuild.
const DefaultCacheTTL = time.Second

// Cache serves the most recent build for up to the TTL, keyed by the exact
// hash-index snapshot version. Any change to the snapshot invalidates it.
type Cache struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	root    *Node
	version uint64
	builtAt time.Time
	valid   bool
}

// NewCache creates a cache with the given TTL.
func NewCache(clock clockwork.Clock, ttl time.Duration) *Cache {
	return &Cache{clock: clock, ttl: ttl}
}

// Root returns the tree for the given snapshot, rebuilding when the cached
// tree was built from a different snapshot version or has outlived the TTL.
func (c *Cache) Root(snap hashindex.Snapshot) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.version == snap.Version && c.clock.Since(c.builtAt) <= c.ttl {
		return c.root
	}
	root := Build(snap.Entries)
	c.root = root
	c.version = snap.Version
	c.builtAt = c.clock.Now()
	c.valid = true
	return root
}

// Invalidate drops the cached tree.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.root = nil
}
