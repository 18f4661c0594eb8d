// Package syncer orchestrates merkle set reconciliation with every peer in
// the room: it initiates sync on root mismatch, walks differing subtrees,
// batches record requests, ingests record batches and re-announces the root
// after local changes.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/fetch"
	"github.com/pinmesh/pinmesh/hashindex"
	"github.com/pinmesh/pinmesh/merkle"
	"github.com/pinmesh/pinmesh/moderation"
	"github.com/pinmesh/pinmesh/p2p"
	"github.com/pinmesh/pinmesh/sql"
	"github.com/pinmesh/pinmesh/sql/records"
)

// Syncer owns all per-peer sync state. All mutations of that state happen
// under its mutex; transport, store and moderation calls happen outside it.
type Syncer struct {
	logger    *zap.Logger
	clock     clockwork.Clock
	room      p2p.Room
	db        *sql.Database
	index     *hashindex.Index
	cache     *merkle.Cache
	moderator moderation.Moderator
	batcher   *fetch.Batcher
	cfg       Config

	mu       sync.Mutex
	peers    map[p2p.Peer]*peerState
	rejected map[types.RecordID]struct{}
	global   Traffic

	cancel context.CancelFunc
	eg     errgroup.Group
}

// New wires a syncer to the room. The room starts delivering through the
// installed handler immediately; call Start to load persisted records first.
func New(
	logger *zap.Logger,
	clock clockwork.Clock,
	room p2p.Room,
	db *sql.Database,
	index *hashindex.Index,
	moderator moderation.Moderator,
	cfg Config,
) *Syncer {
	s := &Syncer{
		logger:    logger,
		clock:     clock,
		room:      room,
		db:        db,
		index:     index,
		cache:     merkle.NewCache(clock, cfg.MerkleCacheTTL),
		moderator: moderator,
		cfg:       cfg,
		peers:     map[p2p.Peer]*peerState{},
		rejected:  map[types.RecordID]struct{}{},
		global:    newTraffic(),
	}
	s.batcher = fetch.New(logger.Named("fetch"), clock, cfg.Fetch, s.sendRecordRequest)
	room.SetHandler(s.handleMessage)
	room.SetPeerEvents(s.OnPeerJoin, s.OnPeerLeave)
	return s
}

// Start loads the hash index from the record store and launches the
// background prune sweep when record ageing is configured.
func (s *Syncer) Start(ctx context.Context) error {
	all, err := records.GetAll(s.db)
	if err != nil {
		return err
	}
	entries := make(map[types.RecordID]types.Hash32, len(all))
	for id, rec := range all {
		entries[id] = rec.Integrity.Hash
	}
	s.index.Load(entries)
	s.logger.Info("loaded records", zap.Int("count", len(entries)))

	ctx, s.cancel = context.WithCancel(ctx)
	if s.cfg.MaxRecordAge > 0 {
		s.eg.Go(func() error {
			s.pruneLoop(ctx)
			return nil
		})
	}
	return nil
}

// Stop cancels background work and waits for it to finish.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.eg.Wait()
}

// localRoot builds (or fetches the cached) tree over the current hash index.
func (s *Syncer) localRoot() *merkle.Node {
	return s.cache.Root(s.index.Snapshot())
}

// OnPeerJoin initializes peer state and announces the local root.
func (s *Syncer) OnPeerJoin(peer p2p.Peer) {
	s.mu.Lock()
	s.peers[peer] = newPeerState(s.clock.Now())
	s.mu.Unlock()
	connectedPeers.Inc()
	s.logger.Info("peer joined", zap.Stringer("peer", peer))

	s.sendRoot(context.Background(), peer, s.localRoot().Hash)
}

// OnPeerLeave cancels every timer for the peer, discards its batches and
// frees its state.
func (s *Syncer) OnPeerLeave(peer p2p.Peer) {
	s.mu.Lock()
	ps, ok := s.peers[peer]
	if ok {
		ps.cancelTimers()
		delete(s.peers, peer)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.batcher.ClearPeer(peer)
	connectedPeers.Dec()
	s.logger.Info("peer left", zap.Stringer("peer", peer))
}

// peerLocked returns the state for peer, creating it if the transport
// delivered a message before the join notification.
func (s *Syncer) peerLocked(peer p2p.Peer) *peerState {
	ps, ok := s.peers[peer]
	if !ok {
		ps = newPeerState(s.clock.Now())
		s.peers[peer] = ps
	}
	return ps
}

func (s *Syncer) handleMessage(ctx context.Context, from p2p.Peer, msg *p2p.Envelope) {
	payload, err := msg.Decode()
	if err != nil {
		protocolViolations.Inc()
		s.logger.Warn("dropping malformed message",
			zap.Stringer("peer", from), zap.Error(err))
		return
	}

	inbound := 0
	if rec, ok := payload.(*p2p.Records); ok {
		inbound = len(rec.Records)
	}
	s.mu.Lock()
	ps := s.peerLocked(from)
	ps.lastActivity = s.clock.Now()
	if ps.syncTimeout != nil {
		ps.syncTimeout.Reset(s.cfg.SyncTimeout)
	}
	ps.traffic.received(msg.Kind, inbound)
	s.global.received(msg.Kind, inbound)
	s.mu.Unlock()
	messagesReceived.WithLabelValues(string(msg.Kind)).Inc()

	switch m := payload.(type) {
	case *p2p.RootHash:
		s.onRootHash(ctx, from, m)
	case *p2p.RequestSubtree:
		s.onRequestSubtree(ctx, from, m)
	case *p2p.SubtreeHashes:
		s.onSubtreeHashes(ctx, from, m)
	case *p2p.RequestRecords:
		s.onRequestRecords(ctx, from, m)
	case *p2p.Records:
		s.onRecords(ctx, from, m)
	}
}

// onRootHash compares the peer's root with ours and initiates a sync on
// mismatch. At most one sync per peer runs at a time; an equal root while a
// sync is running confirms convergence and completes it.
func (s *Syncer) onRootHash(ctx context.Context, from p2p.Peer, m *p2p.RootHash) {
	root := s.localRoot()

	s.mu.Lock()
	ps := s.peerLocked(from)
	if m.MerkleRoot == root.Hash {
		confirm := ps.syncInProgress && !ps.processingRecords && ps.rootRecompute == nil
		s.mu.Unlock()
		if confirm && s.batcher.Pending(from) == 0 {
			s.finishSync(from, false)
		}
		return
	}
	if ps.processingRecords || ps.syncInProgress {
		// a sync is already running; only activity is refreshed and the
		// mismatch is picked up by a later root exchange
		s.mu.Unlock()
		return
	}
	ps.syncInProgress = true
	stopTimer(&ps.syncTimeout)
	peer := from
	ps.syncTimeout = s.clock.AfterFunc(s.cfg.SyncTimeout, func() {
		s.syncTimedOut(peer)
	})
	s.mu.Unlock()

	syncsStarted.Inc()
	s.logger.Debug("starting sync",
		zap.Stringer("peer", from),
		zap.String("local_root", root.Hash.ShortString()),
		zap.String("peer_root", m.MerkleRoot.ShortString()),
	)
	s.sendTo(ctx, from, p2p.MustEnvelope(&p2p.RequestSubtree{Path: "", Depth: 1}), 0)
}

// onRequestSubtree answers with the summaries below the requested path, or
// an empty list when the path is absent.
func (s *Syncer) onRequestSubtree(ctx context.Context, from p2p.Peer, m *p2p.RequestSubtree) {
	if m.Depth < 0 {
		protocolViolations.Inc()
		s.logger.Warn("dropping subtree request with negative depth",
			zap.Stringer("peer", from), zap.Int("depth", m.Depth))
		return
	}
	root := s.localRoot()
	var items []merkle.Summary
	if node, ok := root.Subtree(m.Path); ok {
		items = merkle.Expose(node, m.Path, m.Depth)
	}
	s.sendTo(ctx, from, p2p.MustEnvelope(&p2p.SubtreeHashes{Items: items}), 0)
}

// onSubtreeHashes descends into differing subtrees and accumulates missing
// leaf uuids into the record-request batch. Duplicate deliveries are
// idempotent: already-indexed, already-pending and moderation-rejected ids
// are skipped.
func (s *Syncer) onSubtreeHashes(ctx context.Context, from p2p.Peer, m *p2p.SubtreeHashes) {
	root := s.localRoot()

	var descend []string
	var need []types.RecordID
	s.mu.Lock()
	for _, item := range m.Items {
		local, ok := root.Subtree(item.Path)
		if ok && local.Hash == item.Hash {
			continue
		}
		if item.HasChildren {
			descend = append(descend, item.Path)
			continue
		}
		for _, id := range item.UUIDs {
			if _, wasRejected := s.rejected[id]; wasRejected {
				continue
			}
			if s.index.Has(id) {
				continue
			}
			need = append(need, id)
		}
	}
	syncing := s.peerLocked(from).syncInProgress
	s.mu.Unlock()

	for _, path := range descend {
		s.sendTo(ctx, from, p2p.MustEnvelope(&p2p.RequestSubtree{Path: path, Depth: 1}), 0)
	}
	if len(need) > 0 {
		s.batcher.Add(from, need...)
	}
	if syncing && len(descend) == 0 {
		// leaf level reached; verify completion once requests drain
		s.scheduleCompletionCheck(from)
	}
}

// onRequestRecords replies with the requested records that exist locally.
func (s *Syncer) onRequestRecords(ctx context.Context, from p2p.Peer, m *p2p.RequestRecords) {
	found := make(map[types.RecordID]*types.Record, len(m.UUIDs))
	for _, id := range m.UUIDs {
		rec, err := records.Get(s.db, id)
		if err != nil {
			continue
		}
		found[id] = rec
	}
	s.sendTo(ctx, from, p2p.MustEnvelope(&p2p.Records{Records: found}), len(found))
}

// onRecords is the ingestion pipeline: moderate the batch, persist the
// approved records, update the hash index and schedule the debounced root
// recomputation and the completion check.
func (s *Syncer) onRecords(ctx context.Context, from p2p.Peer, m *p2p.Records) {
	s.mu.Lock()
	ps := s.peerLocked(from)
	ps.processingRecords = true
	now := s.clock.Now()
	ps.batchArrivals = append(ps.batchArrivals, now)
	if len(ps.batchArrivals) > s.cfg.BatchTimingHistory {
		ps.batchArrivals = ps.batchArrivals[len(ps.batchArrivals)-s.cfg.BatchTimingHistory:]
	}
	s.mu.Unlock()

	verdicts := s.moderator.ModerateBatch(ctx, m.Records)
	approved := make(map[types.RecordID]*types.Record, len(m.Records))
	var dropped []types.RecordID
	for id, rec := range m.Records {
		if verdicts[id] && rec != nil && rec.UUID == id {
			approved[id] = rec
		} else {
			dropped = append(dropped, id)
		}
	}

	if len(approved) > 0 {
		if err := records.AddBatch(ctx, s.db, approved); err != nil {
			s.logger.Error("record batch persistence failed",
				zap.Stringer("peer", from),
				zap.Int("count", len(approved)),
				zap.Error(err),
			)
			// abort the whole batch; the next root exchange retries
			s.cancelSync(from)
			return
		}
		update := make(hashindex.Batch, len(approved))
		for id, rec := range approved {
			h := rec.Integrity.Hash
			update[id] = &h
		}
		s.index.Apply(update)
		recordsIngested.Add(float64(len(approved)))
	}
	if len(dropped) > 0 {
		recordsRejected.Add(float64(len(dropped)))
		s.logger.Debug("records rejected by moderation",
			zap.Stringer("peer", from), zap.Int("count", len(dropped)))
	}

	s.mu.Lock()
	for _, id := range dropped {
		s.rejected[id] = struct{}{}
	}
	ps, ok := s.peers[from]
	if !ok {
		// the peer left while the batch was being processed
		s.mu.Unlock()
		return
	}
	s.scheduleRootRecomputeLocked(from, ps)
	s.scheduleCompletionCheckLocked(from, ps)
	ps.processingRecords = false
	s.mu.Unlock()
}

// scheduleRootRecomputeLocked arms (or replaces) the debounced root
// recomputation. The delay adapts to the recent batch arrival cadence:
// twice the mean inter-arrival interval, clamped to the configured bounds.
func (s *Syncer) scheduleRootRecomputeLocked(peer p2p.Peer, ps *peerState) {
	delay := s.cfg.MinMerkleDelay
	if len(ps.batchArrivals) >= 2 {
		var total time.Duration
		for i := 1; i < len(ps.batchArrivals); i++ {
			total += ps.batchArrivals[i].Sub(ps.batchArrivals[i-1])
		}
		avg := total / time.Duration(len(ps.batchArrivals)-1)
		delay = min(max(2*avg, s.cfg.MinMerkleDelay), s.cfg.MaxMerkleDelay)
	}
	stopTimer(&ps.rootRecompute)
	ps.rootRecompute = s.clock.AfterFunc(delay, func() {
		s.recomputeRoot(peer)
	})
}

// recomputeRoot rebuilds the tree from the current hash index and, if the
// root changed since it was last announced to the peer, triggers reverse
// sync by re-sending it.
func (s *Syncer) recomputeRoot(peer p2p.Peer) {
	s.mu.Lock()
	ps, ok := s.peers[peer]
	if !ok {
		s.mu.Unlock()
		return
	}
	ps.rootRecompute = nil
	s.mu.Unlock()

	root := s.localRoot()
	s.maybeSendRoot(context.Background(), peer, root.Hash)
}

func (s *Syncer) scheduleCompletionCheck(peer p2p.Peer) {
	s.mu.Lock()
	ps := s.peerLocked(peer)
	s.scheduleCompletionCheckLocked(peer, ps)
	s.mu.Unlock()
}

func (s *Syncer) scheduleCompletionCheckLocked(peer p2p.Peer, ps *peerState) {
	if ps.completionCheck != nil {
		ps.completionCheck.Reset(s.cfg.CompletionCheckDelay)
		return
	}
	ps.completionCheck = s.clock.AfterFunc(s.cfg.CompletionCheckDelay, func() {
		s.completionCheck(peer)
	})
}

// completionCheck verifies that no record request is pending and no debounce
// timer is armed; if clean the sync returns to idle and reverse sync runs,
// otherwise the check reschedules itself.
func (s *Syncer) completionCheck(peer p2p.Peer) {
	s.mu.Lock()
	ps, ok := s.peers[peer]
	if !ok {
		s.mu.Unlock()
		return
	}
	ps.completionCheck = nil
	clean := !ps.processingRecords && ps.rootRecompute == nil
	s.mu.Unlock()

	if !clean || s.batcher.Pending(peer) > 0 {
		s.scheduleCompletionCheck(peer)
		return
	}
	s.finishSync(peer, true)
}

// finishSync returns the peer to idle. With reverse set, the current root is
// re-announced when it differs from the last one sent.
func (s *Syncer) finishSync(peer p2p.Peer, reverse bool) {
	s.mu.Lock()
	ps, ok := s.peers[peer]
	if !ok {
		s.mu.Unlock()
		return
	}
	wasSyncing := ps.syncInProgress
	ps.syncInProgress = false
	stopTimer(&ps.syncTimeout)
	stopTimer(&ps.completionCheck)
	s.mu.Unlock()

	s.batcher.ClearRequested(peer)
	if wasSyncing {
		syncsCompleted.Inc()
		s.logger.Debug("sync complete", zap.Stringer("peer", peer))
	}
	if reverse {
		s.maybeSendRoot(context.Background(), peer, s.localRoot().Hash)
	}
}

// cancelSync clears all sync state for the peer but keeps its counters.
func (s *Syncer) cancelSync(peer p2p.Peer) {
	s.mu.Lock()
	ps, ok := s.peers[peer]
	if ok {
		ps.cancelTimers()
	}
	s.mu.Unlock()
	if ok {
		s.batcher.ClearPeer(peer)
	}
}

func (s *Syncer) syncTimedOut(peer p2p.Peer) {
	s.mu.Lock()
	ps, ok := s.peers[peer]
	if !ok {
		s.mu.Unlock()
		return
	}
	ps.cancelTimers()
	s.mu.Unlock()

	s.batcher.ClearPeer(peer)
	syncsTimedOut.Inc()
	s.logger.Warn("sync timed out", zap.Stringer("peer", peer))
}

// sendRecordRequest is the batcher's send hook.
func (s *Syncer) sendRecordRequest(peer p2p.Peer, ids []types.RecordID) {
	s.sendTo(context.Background(), peer, p2p.MustEnvelope(&p2p.RequestRecords{UUIDs: ids}), 0)
}

// sendRoot unconditionally announces the root to the peer.
func (s *Syncer) sendRoot(ctx context.Context, peer p2p.Peer, root types.Hash32) {
	s.mu.Lock()
	ps := s.peerLocked(peer)
	ps.lastRootSent = root
	ps.sentRoot = true
	s.mu.Unlock()
	s.sendTo(ctx, peer, p2p.MustEnvelope(&p2p.RootHash{MerkleRoot: root}), 0)
}

// maybeSendRoot announces the root only when it differs from the last one
// sent to this peer, keeping converged peers quiet.
func (s *Syncer) maybeSendRoot(ctx context.Context, peer p2p.Peer, root types.Hash32) {
	s.mu.Lock()
	ps, ok := s.peers[peer]
	if !ok || (ps.sentRoot && ps.lastRootSent == root) {
		s.mu.Unlock()
		return
	}
	ps.lastRootSent = root
	ps.sentRoot = true
	s.mu.Unlock()
	s.sendTo(ctx, peer, p2p.MustEnvelope(&p2p.RootHash{MerkleRoot: root}), 0)
}

// sendTo delivers one message and accounts for it. Transport errors are
// transient: they are logged and the next root exchange retries.
func (s *Syncer) sendTo(ctx context.Context, peer p2p.Peer, msg *p2p.Envelope, outbound int) {
	if err := s.room.Send(ctx, peer, msg); err != nil {
		s.logger.Warn("send failed",
			zap.Stringer("peer", peer),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		return
	}
	s.mu.Lock()
	ps := s.peerLocked(peer)
	ps.traffic.sent(msg.Kind, outbound)
	s.global.sent(msg.Kind, outbound)
	s.mu.Unlock()
	messagesSent.WithLabelValues(string(msg.Kind)).Inc()
}

// AddLocal persists a locally created record, updates the hash index and
// announces the new root to every peer.
func (s *Syncer) AddLocal(ctx context.Context, rec *types.Record) error {
	if err := records.Add(s.db, rec); err != nil {
		return err
	}
	s.index.Set(rec.UUID, rec.Integrity.Hash)
	root := s.localRoot()
	for _, peer := range s.room.Peers() {
		s.maybeSendRoot(ctx, peer, root.Hash)
	}
	return nil
}

// pruneLoop deletes records older than MaxRecordAge on every tick and
// announces the new root when anything was removed.
func (s *Syncer) pruneLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.pruneOnce(ctx)
		}
	}
}

func (s *Syncer) pruneOnce(ctx context.Context) {
	cutoff := s.clock.Now().Add(-s.cfg.MaxRecordAge).UnixMilli()
	expired, err := records.GetExpired(s.db, cutoff)
	if err != nil {
		s.logger.Error("prune sweep failed", zap.Error(err))
		return
	}
	pruned := 0
	for _, id := range expired {
		if err := records.Delete(s.db, id); err != nil {
			s.logger.Warn("prune delete failed", zap.Stringer("uuid", id), zap.Error(err))
			continue
		}
		s.index.Delete(id)
		pruned++
	}
	if pruned == 0 {
		return
	}
	s.logger.Info("pruned records", zap.Int("count", pruned))
	root := s.localRoot()
	for _, peer := range s.room.Peers() {
		s.maybeSendRoot(ctx, peer, root.Hash)
	}
}

// Stats returns a snapshot of global and per-peer traffic counters.
func (s *Syncer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{
		Global: s.global.clone(),
		Peers:  make(map[p2p.Peer]Traffic, len(s.peers)),
	}
	for peer, ps := range s.peers {
		stats.Peers[peer] = ps.traffic.clone()
	}
	return stats
}

// ResetStats zeroes every traffic counter. Sync state is unaffected.
func (s *Syncer) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global.reset()
	for _, ps := range s.peers {
		ps.traffic.reset()
	}
}

// SyncInProgress reports whether a sync with the peer is currently running.
func (s *Syncer) SyncInProgress(peer p2p.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.peers[peer]
	return ok && ps.syncInProgress
}

// Root returns the current local merkle root hash.
func (s *Syncer) Root() types.Hash32 {
	return s.localRoot().Hash
}
