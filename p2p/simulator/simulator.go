// Package simulator provides an in-memory mesh of rooms with deterministic,
// queued delivery of both messages and membership events. It is the
// transport used by protocol tests.
package simulator

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pinmesh/pinmesh/p2p"
)

type itemKind int

const (
	itemMsg itemKind = iota
	itemJoin
	itemLeave
)

type item struct {
	kind     itemKind
	from, to p2p.Peer
	msg      *p2p.Envelope
}

// Tap observes every message as it is enqueued.
type Tap func(from, to p2p.Peer, msg *p2p.Envelope)

// Mesh connects simulated rooms. Sends and membership changes are enqueued
// and delivered in FIFO order by Drain, so tests control interleaving
// exactly and rooms may install handlers after joining.
type Mesh struct {
	logger *zap.Logger

	mu       sync.Mutex
	rooms    map[p2p.Peer]*Room
	queue    []item
	tap      Tap
	draining bool
}

// New creates an empty mesh.
func New(logger *zap.Logger) *Mesh {
	return &Mesh{
		logger: logger,
		rooms:  map[p2p.Peer]*Room{},
	}
}

// SetTap installs a message observer.
func (m *Mesh) SetTap(tap Tap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tap = tap
}

// Join adds a peer to the mesh. Join notifications for everyone, the
// newcomer included, are queued and delivered on the next Drain.
func (m *Mesh) Join(id p2p.Peer) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := &Room{mesh: m, id: id}
	for other := range m.rooms {
		m.queue = append(m.queue,
			item{kind: itemJoin, from: id, to: other},
			item{kind: itemJoin, from: other, to: id},
		)
	}
	m.rooms[id] = room
	m.logger.Debug("peer joined mesh", zap.Stringer("id", id))
	return room
}

// Leave removes a peer, drops its queued traffic and queues leave
// notifications for the remaining members.
func (m *Mesh) Leave(id p2p.Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return
	}
	delete(m.rooms, id)
	m.queue = slices.DeleteFunc(m.queue, func(it item) bool {
		return it.from == id || it.to == id
	})
	for other := range m.rooms {
		m.queue = append(m.queue, item{kind: itemLeave, from: id, to: other})
	}
	m.logger.Debug("peer left mesh", zap.Stringer("id", id))
}

func (m *Mesh) send(from, to p2p.Peer, msg *p2p.Envelope) error {
	m.mu.Lock()
	if _, ok := m.rooms[to]; !ok {
		m.mu.Unlock()
		return p2p.ErrNotConnected
	}
	m.queue = append(m.queue, item{kind: itemMsg, from: from, to: to, msg: msg})
	tap := m.tap
	m.mu.Unlock()
	if tap != nil {
		tap(from, to, msg)
	}
	return nil
}

// Drain delivers queued items in FIFO order, including items enqueued by
// handlers while draining, until the queue is empty. It returns the number
// of protocol messages delivered. Nested calls return immediately.
func (m *Mesh) Drain() int {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return 0
	}
	m.draining = true
	delivered := 0
	for len(m.queue) > 0 {
		it := m.queue[0]
		m.queue = m.queue[1:]
		room := m.rooms[it.to]
		m.mu.Unlock()

		if room != nil {
			switch it.kind {
			case itemMsg:
				room.deliver(it.from, it.msg)
				delivered++
			case itemJoin:
				room.notifyJoin(it.from)
			case itemLeave:
				room.notifyLeave(it.from)
			}
		}

		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
	return delivered
}

// Room is one peer's endpoint in the mesh.
type Room struct {
	mesh *Mesh
	id   p2p.Peer

	mu      sync.Mutex
	handler p2p.Handler
	onJoin  func(p2p.Peer)
	onLeave func(p2p.Peer)
}

var _ p2p.Room = (*Room)(nil)

// ID returns the owning peer's identity.
func (r *Room) ID() p2p.Peer { return r.id }

// SetHandler implements p2p.Room.
func (r *Room) SetHandler(handler p2p.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// SetPeerEvents implements p2p.Room.
func (r *Room) SetPeerEvents(onJoin, onLeave func(p2p.Peer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onJoin = onJoin
	r.onLeave = onLeave
}

// Send implements p2p.Room.
func (r *Room) Send(_ context.Context, to p2p.Peer, msg *p2p.Envelope) error {
	return r.mesh.send(r.id, to, msg)
}

// Broadcast implements p2p.Room.
func (r *Room) Broadcast(ctx context.Context, msg *p2p.Envelope) error {
	for _, to := range r.Peers() {
		if err := r.Send(ctx, to, msg); err != nil {
			return err
		}
	}
	return nil
}

// Peers implements p2p.Room.
func (r *Room) Peers() []p2p.Peer {
	r.mesh.mu.Lock()
	defer r.mesh.mu.Unlock()
	peers := make([]p2p.Peer, 0, len(r.mesh.rooms)-1)
	for id := range r.mesh.rooms {
		if id != r.id {
			peers = append(peers, id)
		}
	}
	slices.Sort(peers)
	return peers
}

// Close implements p2p.Room.
func (r *Room) Close() error {
	r.mesh.Leave(r.id)
	return nil
}

func (r *Room) deliver(from p2p.Peer, msg *p2p.Envelope) {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()
	if handler != nil {
		handler(context.Background(), from, msg)
	}
}

func (r *Room) notifyJoin(id p2p.Peer) {
	r.mu.Lock()
	onJoin := r.onJoin
	r.mu.Unlock()
	if onJoin != nil {
		onJoin(id)
	}
}

func (r *Room) notifyLeave(id p2p.Peer) {
	r.mu.Lock()
	onLeave := r.onLeave
	r.mu.Unlock()
	if onLeave != nil {
		onLeave(id)
	}
}
