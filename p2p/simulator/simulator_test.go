package simulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/p2p"
)

func TestJoinLeaveEvents(t *testing.T) {
	mesh := New(zaptest.NewLogger(t))

	var aSaw, bSaw []p2p.Peer
	a := mesh.Join(p2p.Peer("a"))
	a.SetPeerEvents(
		func(id p2p.Peer) { aSaw = append(aSaw, id) },
		func(id p2p.Peer) { aSaw = append(aSaw, id) },
	)

	b := mesh.Join(p2p.Peer("b"))
	b.SetPeerEvents(
		func(id p2p.Peer) { bSaw = append(bSaw, id) },
		func(id p2p.Peer) { bSaw = append(bSaw, id) },
	)
	mesh.Drain()
	require.Equal(t, []p2p.Peer{"b"}, aSaw)
	require.Equal(t, []p2p.Peer{"a"}, bSaw)

	mesh.Join(p2p.Peer("c"))
	mesh.Drain()
	require.Equal(t, []p2p.Peer{"b", "c"}, aSaw)
	require.Equal(t, []p2p.Peer{"a", "c"}, bSaw)

	mesh.Leave(p2p.Peer("c"))
	mesh.Drain()
	require.Equal(t, []p2p.Peer{"b", "c", "c"}, aSaw)

	require.Equal(t, []p2p.Peer{"b"}, a.Peers())
}

func TestOrderedDelivery(t *testing.T) {
	mesh := New(zaptest.NewLogger(t))
	a := mesh.Join(p2p.Peer("a"))
	b := mesh.Join(p2p.Peer("b"))

	var got []string
	b.SetHandler(func(_ context.Context, from p2p.Peer, msg *p2p.Envelope) {
		payload, err := msg.Decode()
		require.NoError(t, err)
		got = append(got, payload.(*p2p.RequestSubtree).Path)
	})

	ctx := context.Background()
	for _, path := range []string{"one", "two", "three"} {
		require.NoError(t, a.Send(ctx, "b", p2p.MustEnvelope(&p2p.RequestSubtree{Path: path, Depth: 1})))
	}
	require.Equal(t, 3, mesh.Drain())
	require.Equal(t, []string{"one", "two", "three"}, got)
}

func TestHandlerEnqueuesDuringDrain(t *testing.T) {
	mesh := New(zaptest.NewLogger(t))
	a := mesh.Join(p2p.Peer("a"))
	b := mesh.Join(p2p.Peer("b"))

	var aGot int
	a.SetHandler(func(_ context.Context, _ p2p.Peer, _ *p2p.Envelope) {
		aGot++
	})
	b.SetHandler(func(ctx context.Context, from p2p.Peer, _ *p2p.Envelope) {
		// reply while the queue is draining
		require.NoError(t, b.Send(ctx, from, p2p.MustEnvelope(&p2p.RootHash{})))
	})

	require.NoError(t, a.Send(context.Background(), "b",
		p2p.MustEnvelope(&p2p.RootHash{MerkleRoot: types.CalcHash32([]byte("x"))})))
	require.Equal(t, 2, mesh.Drain())
	require.Equal(t, 1, aGot)
}

func TestSendToUnknownPeer(t *testing.T) {
	mesh := New(zaptest.NewLogger(t))
	a := mesh.Join(p2p.Peer("a"))
	err := a.Send(context.Background(), "ghost", p2p.MustEnvelope(&p2p.RootHash{}))
	require.ErrorIs(t, err, p2p.ErrNotConnected)
}

func TestLeaveDropsQueuedTraffic(t *testing.T) {
	mesh := New(zaptest.NewLogger(t))
	a := mesh.Join(p2p.Peer("a"))
	b := mesh.Join(p2p.Peer("b"))

	delivered := 0
	b.SetHandler(func(_ context.Context, _ p2p.Peer, _ *p2p.Envelope) { delivered++ })

	require.NoError(t, a.Send(context.Background(), "b", p2p.MustEnvelope(&p2p.RootHash{})))
	mesh.Leave(p2p.Peer("b"))
	require.Zero(t, mesh.Drain())
	require.Zero(t, delivered)
}
