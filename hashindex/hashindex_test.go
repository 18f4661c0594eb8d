package hashindex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pinmesh/pinmesh/common/types"
)

func TestSetGetDelete(t *testing.T) {
	x := New(zaptest.NewLogger(t))
	id := types.RandomRecordID()
	h := types.CalcHash32([]byte("a"))

	require.False(t, x.Has(id))
	x.Set(id, h)
	got, ok := x.Get(id)
	require.True(t, ok)
	require.Equal(t, h, got)
	require.Equal(t, 1, x.Len())

	x.Delete(id)
	require.False(t, x.Has(id))
	require.Zero(t, x.Len())
}

func TestSnapshotIsImmutable(t *testing.T) {
	x := New(zaptest.NewLogger(t))
	id := types.RandomRecordID()
	x.Set(id, types.CalcHash32([]byte("a")))

	snap := x.Snapshot()
	require.Len(t, snap.Entries, 1)

	x.Set(types.RandomRecordID(), types.CalcHash32([]byte("b")))
	require.Len(t, snap.Entries, 1, "published snapshot changed after update")
	require.Len(t, x.Snapshot().Entries, 2)
	require.Greater(t, x.Snapshot().Version, snap.Version)
}

func TestVersionAdvancesPerPublish(t *testing.T) {
	x := New(zaptest.NewLogger(t))
	v0 := x.Snapshot().Version
	x.Set(types.RandomRecordID(), types.CalcHash32([]byte("a")))
	v1 := x.Snapshot().Version
	require.Greater(t, v1, v0)
}

func TestLoad(t *testing.T) {
	x := New(zaptest.NewLogger(t))
	entries := map[types.RecordID]types.Hash32{
		types.RandomRecordID(): types.CalcHash32([]byte("a")),
		types.RandomRecordID(): types.CalcHash32([]byte("b")),
	}
	x.Load(entries)
	require.Equal(t, entries, x.Snapshot().Entries)
}

func TestConcurrentApply(t *testing.T) {
	x := New(zaptest.NewLogger(t))
	const workers = 8
	const perWorker = 50

	ids := make([][]types.RecordID, workers)
	for w := range ids {
		ids[w] = make([]types.RecordID, perWorker)
		for i := range ids[w] {
			ids[w][i] = types.RandomRecordID()
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for _, id := range ids[w] {
				h := types.CalcHash32(id[:])
				x.Apply(Batch{id: &h})
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, workers*perWorker, x.Len())
	for w := range ids {
		for _, id := range ids[w] {
			got, ok := x.Get(id)
			require.True(t, ok)
			require.Equal(t, types.CalcHash32(id[:]), got)
		}
	}
}
