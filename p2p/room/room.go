// Package room implements the p2p.Room abstraction over libp2p: a gossipsub
// topic provides presence (join/leave), and protocol messages travel over
// direct one-shot streams framed as varint-delimited JSON.
package room

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-varint"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pinmesh/pinmesh/p2p"
)

// ProtocolID is the stream protocol carrying sync messages.
const ProtocolID = protocol.ID("/pinmesh/sync/1.0.0")

// Config configures the libp2p room.
type Config struct {
	// Topic is the gossipsub topic used for presence.
	Topic string `mapstructure:"topic"`
	// Listen are the multiaddrs the host listens on.
	Listen []string `mapstructure:"listen"`
	// StreamTimeout bounds a single send or receive.
	StreamTimeout time.Duration `mapstructure:"stream-timeout"`
	// MaxMessageSize bounds a single framed message.
	MaxMessageSize int `mapstructure:"max-message-size"`
}

// DefaultConfig returns the default room parameters.
func DefaultConfig() Config {
	return Config{
		Topic:          "pinmesh/records",
		Listen:         []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"},
		StreamTimeout:  10 * time.Second,
		MaxMessageSize: 4 << 20,
	}
}

// Room is the libp2p implementation of p2p.Room.
type Room struct {
	logger *zap.Logger
	cfg    Config
	h      host.Host
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	mu      sync.Mutex
	handler p2p.Handler
	onJoin  func(p2p.Peer)
	onLeave func(p2p.Peer)
	peers   map[p2p.Peer]struct{}

	cancel context.CancelFunc
	eg     errgroup.Group
}

var _ p2p.Room = (*Room)(nil)

// New creates a host, joins the presence topic and starts tracking
// membership. Handlers should be installed before the first peers arrive.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*Room, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.Listen...))
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}
	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %q: %w", cfg.Topic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	events, err := topic.EventHandler()
	if err != nil {
		return nil, fmt.Errorf("topic events: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Room{
		logger: logger,
		cfg:    cfg,
		h:      h,
		ps:     ps,
		topic:  topic,
		sub:    sub,
		peers:  map[p2p.Peer]struct{}{},
		cancel: cancel,
	}
	h.SetStreamHandler(ProtocolID, r.handleStream)
	r.eg.Go(func() error {
		r.membershipLoop(ctx, events)
		return nil
	})
	r.eg.Go(func() error {
		r.drainTopic(ctx)
		return nil
	})
	logger.Info("room joined",
		zap.String("topic", cfg.Topic),
		zap.Stringer("id", h.ID()),
	)
	return r, nil
}

// ID returns the local peer identity.
func (r *Room) ID() p2p.Peer { return r.h.ID() }

// Host exposes the underlying libp2p host, e.g. for address bookkeeping.
func (r *Room) Host() host.Host { return r.h }

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

func (r *Room) membershipLoop(ctx context.Context, events *pubsub.TopicEventHandler) {
	defer events.Cancel()
	for {
		evt, err := events.NextPeerEvent(ctx)
		if err != nil {
			return
		}
		r.mu.Lock()
		onJoin, onLeave := r.onJoin, r.onLeave
		var notify func(p2p.Peer)
		switch evt.Type {
		case pubsub.PeerJoin:
			if _, ok := r.peers[evt.Peer]; !ok {
				r.peers[evt.Peer] = struct{}{}
				notify = onJoin
			}
		case pubsub.PeerLeave:
			if _, ok := r.peers[evt.Peer]; ok {
				delete(r.peers, evt.Peer)
				notify = onLeave
			}
		}
		r.mu.Unlock()
		if notify != nil {
			notify(evt.Peer)
		}
	}
}

// drainTopic keeps the subscription alive; presence needs no payloads.
func (r *Room) drainTopic(ctx context.Context) {
	for {
		if _, err := r.sub.Next(ctx); err != nil {
			return
		}
	}
}

func (r *Room) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetReadDeadline(time.Now().Add(r.cfg.StreamTimeout))

	msg, err := readFrame(bufio.NewReader(stream), r.cfg.MaxMessageSize)
	if err != nil {
		r.logger.Warn("dropping inbound stream",
			zap.Stringer("peer", stream.Conn().RemotePeer()),
			zap.Error(err),
		)
		stream.Reset()
		return
	}
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()
	if handler != nil {
		handler(context.Background(), stream.Conn().RemotePeer(), msg)
	}
}

// Send implements p2p.Room.
func (r *Room) Send(ctx context.Context, to p2p.Peer, msg *p2p.Envelope) error {
	r.mu.Lock()
	_, known := r.peers[to]
	r.mu.Unlock()
	if !known {
		return p2p.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StreamTimeout)
	defer cancel()
	stream, err := r.h.NewStream(ctx, to, ProtocolID)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", to, err)
	}
	defer stream.Close()
	stream.SetWriteDeadline(time.Now().Add(r.cfg.StreamTimeout))
	if err := writeFrame(stream, msg); err != nil {
		stream.Reset()
		return fmt.Errorf("write to %s: %w", to, err)
	}
	return stream.CloseWrite()
}

// Broadcast implements p2p.Room.
func (r *Room) Broadcast(ctx context.Context, msg *p2p.Envelope) error {
	var firstErr error
	for _, to := range r.Peers() {
		if err := r.Send(ctx, to, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Peers implements p2p.Room.
func (r *Room) Peers() []p2p.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]p2p.Peer, 0, len(r.peers))
	for id := range r.peers {
		peers = append(peers, id)
	}
	return peers
}

// Close implements p2p.Room.
func (r *Room) Close() error {
	r.cancel()
	r.sub.Cancel()
	r.eg.Wait()
	if err := r.topic.Close(); err != nil {
		r.logger.Debug("topic close", zap.Error(err))
	}
	return r.h.Close()
}

func writeFrame(w io.Writer, msg *p2p.Envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	size := varint.ToUvarint(uint64(len(data)))
	if _, err := w.Write(size); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readFrame(r *bufio.Reader, limit int) (*p2p.Envelope, error) {
	size, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > uint64(limit) {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", size, limit)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	msg := &p2p.Envelope{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
