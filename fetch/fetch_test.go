package fetch

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/p2p"
)

type capture struct {
	mu      sync.Mutex
	batches [][]types.RecordID
}

func (c *capture) send(_ p2p.Peer, ids []types.RecordID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, ids)
}

func (c *capture) sizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.batches))
	for i, b := range c.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func newBatcher(t *testing.T) (*Batcher, *capture, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	c := &capture{}
	b := New(zaptest.NewLogger(t), clock, DefaultConfig(), c.send)
	return b, c, clock
}

func randomIDs(n int) []types.RecordID {
	ids := make([]types.RecordID, n)
	for i := range ids {
		ids[i] = types.RandomRecordID()
	}
	return ids
}

func TestFlushAfterDelay(t *testing.T) {
	b, c, clock := newBatcher(t)
	peer := p2p.Peer("a")

	b.Add(peer, randomIDs(3)...)
	require.Empty(t, c.sizes())
	require.Equal(t, 3, b.Pending(peer))

	clock.Advance(DefaultConfig().BatchDelay)
	require.Eventually(t, func() bool {
		return len(c.sizes()) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, []int{3}, c.sizes())
	require.Zero(t, b.Pending(peer))
}

func TestAddResetsTimer(t *testing.T) {
	b, c, clock := newBatcher(t)
	peer := p2p.Peer("a")

	b.Add(peer, randomIDs(1)...)
	clock.Advance(DefaultConfig().BatchDelay - time.Millisecond)
	b.Add(peer, randomIDs(1)...)
	clock.Advance(DefaultConfig().BatchDelay - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, c.sizes(), "timer was not reset by second add")

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		return len(c.sizes()) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, []int{2}, c.sizes())
}

func TestImmediateFlushAtMaxBatchSize(t *testing.T) {
	b, c, clock := newBatcher(t)
	peer := p2p.Peer("a")

	b.Add(peer, randomIDs(DefaultConfig().MaxBatchSize)...)
	require.Equal(t, []int{50}, c.sizes())

	// nothing pending, nothing more flushes
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, []int{50}, c.sizes())
}

func TestLargeBatchSplits(t *testing.T) {
	b, c, clock := newBatcher(t)
	peer := p2p.Peer("a")

	b.Add(peer, randomIDs(120)...)
	require.Equal(t, []int{50, 50}, c.sizes())
	require.Equal(t, 20, b.Pending(peer))

	clock.Advance(DefaultConfig().BatchDelay)
	require.Eventually(t, func() bool {
		return len(c.sizes()) == 3
	}, time.Second, time.Millisecond)
	require.Equal(t, []int{50, 50, 20}, c.sizes())

	for _, batch := range c.batches {
		require.GreaterOrEqual(t, len(batch), 1)
		require.LessOrEqual(t, len(batch), DefaultConfig().MaxBatchSize)
	}
}

func TestFlushedBatchIsSorted(t *testing.T) {
	b, c, _ := newBatcher(t)
	peer := p2p.Peer("a")

	ids := randomIDs(10)
	b.Add(peer, ids...)
	b.Flush(peer)

	require.Len(t, c.batches, 1)
	got := c.batches[0]
	require.ElementsMatch(t, ids, got)
	for i := 1; i < len(got); i++ {
		require.Negative(t, got[i-1].Compare(got[i]))
	}
}

func TestDuplicatesDropped(t *testing.T) {
	b, c, _ := newBatcher(t)
	peer := p2p.Peer("a")

	ids := randomIDs(5)
	b.Add(peer, ids...)
	b.Add(peer, ids...)
	require.Equal(t, 5, b.Pending(peer))

	b.Flush(peer)
	require.Equal(t, []int{5}, c.sizes())

	// recently requested ids are suppressed until the history is cleared
	b.Add(peer, ids...)
	require.Zero(t, b.Pending(peer))

	b.ClearRequested(peer)
	b.Add(peer, ids...)
	require.Equal(t, 5, b.Pending(peer))
}

func TestClearPeer(t *testing.T) {
	b, c, clock := newBatcher(t)
	peer := p2p.Peer("a")

	b.Add(peer, randomIDs(3)...)
	b.ClearPeer(peer)
	require.Zero(t, b.Pending(peer))

	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, c.sizes(), "cleared batch must not flush")
}

func TestPeersAreIndependent(t *testing.T) {
	b, c, _ := newBatcher(t)

	b.Add(p2p.Peer("a"), randomIDs(3)...)
	b.Add(p2p.Peer("b"), randomIDs(2)...)
	require.Equal(t, 3, b.Pending(p2p.Peer("a")))
	require.Equal(t, 2, b.Pending(p2p.Peer("b")))

	b.Flush(p2p.Peer("a"))
	require.Equal(t, []int{3}, c.sizes())
	require.Equal(t, 2, b.Pending(p2p.Peer("b")))
}

func TestEmptyFlushSendsNothing(t *testing.T) {
	b, c, _ := newBatcher(t)
	b.Flush(p2p.Peer("a"))
	require.Empty(t, c.sizes())
}
