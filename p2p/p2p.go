// Package p2p defines the peer-addressed messaging abstraction the sync
// engine runs over, and the wire format of its five message kinds.
package p2p

import (
	"context"
	"errors"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer is a libp2p peer identity. Tests construct them from plain strings.
type Peer = peer.ID

// NoPeer is a convenience for no peer.
var NoPeer Peer

var (
	// ErrNotConnected is returned when the addressed peer is not in the room.
	ErrNotConnected = errors.New("peer is not connected")
	// ErrClosed is returned after a room has been closed.
	ErrClosed = errors.New("room is closed")
)

// Handler processes one inbound protocol message. Handlers are invoked with
// messages from a given peer in arrival order.
type Handler func(ctx context.Context, from Peer, msg *Envelope)

// Room is a multi-peer channel delivering framed protocol messages between
// identified peers and surfacing membership changes.
type Room interface {
	// SetHandler installs the message handler. Must be called before the
	// room starts delivering.
	SetHandler(Handler)
	// SetPeerEvents installs the join and leave callbacks.
	SetPeerEvents(onJoin, onLeave func(Peer))
	// Send delivers a message to one peer.
	Send(ctx context.Context, to Peer, msg *Envelope) error
	// Broadcast delivers a message to every connected peer.
	Broadcast(ctx context.Context, msg *Envelope) error
	// Peers lists the currently connected peers.
	Peers() []Peer
	// Close leaves the room and releases resources.
	Close() error
}
