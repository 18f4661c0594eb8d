// Package hashindex maintains the in-memory mapping from record id to
// content hash that feeds the merkle tree. Updates are serialized through a
// FIFO queue drained by a single worker; readers always observe a complete,
// immutable snapshot.
package hashindex

import (
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/pinmesh/pinmesh/common/types"
)

// Snapshot is an immutable view of the index. Entries must not be mutated.
type Snapshot struct {
	// Version increases with every published update; two snapshots with the
	// same version hold identical entries.
	Version uint64
	Entries map[types.RecordID]types.Hash32
}

// Batch is a set of index mutations applied atomically. A nil hash pointer
// deletes the entry.
type Batch map[types.RecordID]*types.Hash32

// Index is the uuid to content-hash mapping.
type Index struct {
	logger *zap.Logger

	mu       sync.Mutex
	current  Snapshot
	queue    []Batch
	draining bool
}

// New creates an empty index.
func New(logger *zap.Logger) *Index {
	return &Index{
		logger: logger,
		current: Snapshot{
			Entries: map[types.RecordID]types.Hash32{},
		},
	}
}

// Load replaces the index contents with the given entries, typically read
// from the record store on startup.
func (x *Index) Load(entries map[types.RecordID]types.Hash32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.publishLocked(maps.Clone(entries))
}

// Apply enqueues a batch of mutations. If no worker is active, the calling
// goroutine becomes the worker and drains the queue, applying every pending
// batch to a copy of the current snapshot and publishing the result. If a
// worker is already draining, Apply returns once the batch is enqueued; the
// active worker picks it up before finishing.
func (x *Index) Apply(batch Batch) {
	x.mu.Lock()
	x.queue = append(x.queue, batch)
	if x.draining {
		x.mu.Unlock()
		return
	}
	x.draining = true
	for len(x.queue) > 0 {
		pending := x.queue
		x.queue = nil
		base := x.current.Entries
		x.mu.Unlock()

		next := maps.Clone(base)
		for _, b := range pending {
			for id, h := range b {
				if h == nil {
					delete(next, id)
				} else {
					next[id] = *h
				}
			}
		}

		x.mu.Lock()
		x.publishLocked(next)
	}
	x.draining = false
	x.mu.Unlock()
}

func (x *Index) publishLocked(entries map[types.RecordID]types.Hash32) {
	x.current = Snapshot{
		Version: x.current.Version + 1,
		Entries: entries,
	}
	x.logger.Debug("hash index updated",
		zap.Uint64("version", x.current.Version),
		zap.Int("size", len(entries)),
	)
}

// Set inserts or replaces a single entry.
func (x *Index) Set(id types.RecordID, h types.Hash32) {
	x.Apply(Batch{id: &h})
}

// Delete removes a single entry.
func (x *Index) Delete(id types.RecordID) {
	x.Apply(Batch{id: nil})
}

// Get returns the hash for id.
func (x *Index) Get(id types.RecordID) (types.Hash32, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	h, ok := x.current.Entries[id]
	return h, ok
}

// Has returns true if id is present.
func (x *Index) Has(id types.RecordID) bool {
	_, ok := x.Get(id)
	return ok
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.current.Entries)
}

// Snapshot returns the current immutable snapshot.
func (x *Index) Snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.current
}
