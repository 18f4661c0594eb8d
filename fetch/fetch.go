// Package fetch accumulates record needs per peer and coalesces them into
// size- and time-bounded record requests.
package fetch

import (
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/p2p"
)

// Config configures the batcher.
type Config struct {
	// BatchDelay is how long an under-filled batch waits for more ids.
	BatchDelay time.Duration `mapstructure:"batch-delay"`
	// MaxBatchSize flushes a batch immediately once reached. No request
	// carries more ids than this.
	MaxBatchSize int `mapstructure:"max-batch-size"`
	// RequestedCacheSize bounds the per-peer cache of recently requested
	// ids used to suppress duplicate requests from repeated descents.
	RequestedCacheSize int `mapstructure:"requested-cache-size"`
}

// DefaultConfig returns the default batching parameters.
func DefaultConfig() Config {
	return Config{
		BatchDelay:         100 * time.Millisecond,
		MaxBatchSize:       50,
		RequestedCacheSize: 512,
	}
}

// SendFunc emits one record request to a peer. The id slice is sorted and
// holds between 1 and MaxBatchSize ids. It is called without internal locks
// held, so implementations may call back into the batcher.
type SendFunc func(peer p2p.Peer, ids []types.RecordID)

type pending struct {
	ids       map[types.RecordID]struct{}
	timer     clockwork.Timer
	requested *lru.Cache[types.RecordID, struct{}]
}

// Batcher is the per-peer record-request accumulator.
type Batcher struct {
	logger *zap.Logger
	clock  clockwork.Clock
	cfg    Config
	send   SendFunc

	mu    sync.Mutex
	peers map[p2p.Peer]*pending
}

// New creates a batcher that emits requests through send.
func New(logger *zap.Logger, clock clockwork.Clock, cfg Config, send SendFunc) *Batcher {
	return &Batcher{
		logger: logger,
		clock:  clock,
		cfg:    cfg,
		send:   send,
		peers:  map[p2p.Peer]*pending{},
	}
}

func (b *Batcher) pendingFor(peer p2p.Peer) *pending {
	p, ok := b.peers[peer]
	if !ok {
		requested, err := lru.New[types.RecordID, struct{}](b.cfg.RequestedCacheSize)
		if err != nil {
			panic(err)
		}
		p = &pending{
			ids:       map[types.RecordID]struct{}{},
			requested: requested,
		}
		b.peers[peer] = p
	}
	return p
}

// Add accumulates ids to request from the peer. Each addition re-arms the
// flush timer; reaching MaxBatchSize flushes immediately. Ids already pending
// or recently requested are dropped.
func (b *Batcher) Add(peer p2p.Peer, ids ...types.RecordID) {
	b.mu.Lock()
	var flushed [][]types.RecordID
	p := b.pendingFor(peer)
	for _, id := range ids {
		if _, ok := p.ids[id]; ok {
			continue
		}
		if p.requested.Contains(id) {
			continue
		}
		p.ids[id] = struct{}{}
		if len(p.ids) >= b.cfg.MaxBatchSize {
			flushed = append(flushed, b.takeLocked(p))
			continue
		}
		if p.timer == nil {
			p.timer = b.clock.AfterFunc(b.cfg.BatchDelay, func() {
				b.flushTimer(peer)
			})
		} else {
			p.timer.Reset(b.cfg.BatchDelay)
		}
	}
	b.mu.Unlock()

	for _, batch := range flushed {
		b.emit(peer, batch)
	}
}

func (b *Batcher) flushTimer(peer p2p.Peer) {
	b.mu.Lock()
	p, ok := b.peers[peer]
	if !ok || len(p.ids) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked(p)
	b.mu.Unlock()
	b.emit(peer, batch)
}

// Flush sends any accumulated ids for the peer immediately.
func (b *Batcher) Flush(peer p2p.Peer) {
	b.mu.Lock()
	p, ok := b.peers[peer]
	if !ok || len(p.ids) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked(p)
	b.mu.Unlock()
	b.emit(peer, batch)
}

// takeLocked removes and returns the accumulated set, sorted. The timer is
// disarmed; it is re-armed by the next Add.
func (b *Batcher) takeLocked(p *pending) []types.RecordID {
	ids := make([]types.RecordID, 0, len(p.ids))
	for id := range p.ids {
		ids = append(ids, id)
		p.requested.Add(id, struct{}{})
	}
	slices.SortFunc(ids, types.RecordID.Compare)
	p.ids = map[types.RecordID]struct{}{}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return ids
}

func (b *Batcher) emit(peer p2p.Peer, ids []types.RecordID) {
	b.logger.Debug("flushing record request",
		zap.Stringer("peer", peer),
		zap.Int("count", len(ids)),
	)
	batchesSent.Inc()
	recordsRequested.Add(float64(len(ids)))
	b.send(peer, ids)
}

// Pending returns the number of ids accumulated for the peer.
func (b *Batcher) Pending(peer p2p.Peer) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.peers[peer]; ok {
		return len(p.ids)
	}
	return 0
}

// ClearPeer drops the peer's accumulated ids, disarms its timer and forgets
// its requested-id history. Used on peer leave and sync cancellation.
func (b *Batcher) ClearPeer(peer p2p.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[peer]
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(b.peers, peer)
}

// ClearRequested forgets the peer's requested-id history while keeping any
// pending batch. Called when a sync round completes so a later round may
// request ids whose responses were lost.
func (b *Batcher) ClearRequested(peer p2p.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.peers[peer]; ok {
		p.requested.Purge()
	}
}
