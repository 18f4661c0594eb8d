package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pinmesh/pinmesh/common/types"
)

// seqID generates ids whose sort order follows n.
func seqID(t *testing.T, n int) types.RecordID {
	t.Helper()
	id, err := types.ParseRecordID(fmt.Sprintf("00000000-0000-4000-8000-%012d", n))
	require.NoError(t, err)
	return id
}

func seqEntries(t *testing.T, n int) map[types.RecordID]types.Hash32 {
	t.Helper()
	entries := make(map[types.RecordID]types.Hash32, n)
	for i := 0; i < n; i++ {
		id := seqID(t, i)
		entries[id] = types.CalcHash32(id[:])
	}
	return entries
}

func joinHex(left, right types.Hash32) types.Hash32 {
	return types.CalcHash32([]byte(left.Hex() + right.Hex()))
}

func TestEmptyTree(t *testing.T) {
	root := Build(nil)
	require.True(t, root.Leaf)
	require.Empty(t, root.UUIDs)
	require.Equal(t, EmptyRootHash, root.Hash)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		root.Hash.Hex())

	other := Build(map[types.RecordID]types.Hash32{})
	require.Equal(t, root.Hash, other.Hash)
}

func TestSingleLeaf(t *testing.T) {
	entries := seqEntries(t, 1)
	root := Build(entries)
	require.True(t, root.Leaf)
	require.False(t, root.HasChildren())
	require.Len(t, root.UUIDs, 1)
	require.Equal(t, entries[root.UUIDs[0]], root.Hash)
}

func TestTwoLeaves(t *testing.T) {
	entries := seqEntries(t, 2)
	root := Build(entries)
	u0, u1 := seqID(t, 0), seqID(t, 1)
	require.Equal(t, joinHex(entries[u0], entries[u1]), root.Hash)
	require.Equal(t, []types.RecordID{u0, u1}, root.UUIDs)
	require.True(t, root.Left.Leaf)
	require.True(t, root.Right.Leaf)
}

func TestOddLeafPromotion(t *testing.T) {
	entries := seqEntries(t, 3)
	root := Build(entries)
	u0, u1, u2 := seqID(t, 0), seqID(t, 1), seqID(t, 2)

	// the third leaf is promoted unchanged and joined at the top
	inner := joinHex(entries[u0], entries[u1])
	require.Equal(t, joinHex(inner, entries[u2]), root.Hash)

	require.True(t, root.Right.Leaf)
	require.Equal(t, []types.RecordID{u2}, root.Right.UUIDs)
	require.Equal(t, []types.RecordID{u0, u1, u2}, root.UUIDs)
}

func TestDeterminism(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 7, 16, 33} {
		entries := seqEntries(t, n)
		require.Equal(t, Build(entries).Hash, Build(entries).Hash, "n=%d", n)
	}
}

func TestSensitivity(t *testing.T) {
	entries := seqEntries(t, 16)
	before := Build(entries).Hash

	for id := range entries {
		mutated := make(map[types.RecordID]types.Hash32, len(entries))
		for k, v := range entries {
			mutated[k] = v
		}
		mutated[id] = types.CalcHash32([]byte("mutated"))
		require.NotEqual(t, before, Build(mutated).Hash)
	}
}

func TestSubtree(t *testing.T) {
	root := Build(seqEntries(t, 3))

	node, ok := root.Subtree("")
	require.True(t, ok)
	require.Equal(t, root, node)

	left, ok := root.Subtree("left")
	require.True(t, ok)
	require.True(t, left.HasChildren())

	leaf, ok := root.Subtree("left.left")
	require.True(t, ok)
	require.True(t, leaf.Leaf)
	require.Equal(t, []types.RecordID{seqID(t, 0)}, leaf.UUIDs)

	// one level past a leaf
	_, ok = root.Subtree("right.left")
	require.False(t, ok)
	// unknown token
	_, ok = root.Subtree("up")
	require.False(t, ok)
}

func TestExposeDepthZero(t *testing.T) {
	root := Build(seqEntries(t, 3))
	out := Expose(root, "", 0)
	require.Len(t, out, 1)
	require.Equal(t, "", out[0].Path)
	require.Equal(t, root.Hash, out[0].Hash)
	require.Equal(t, root.UUIDs, out[0].UUIDs)
	require.True(t, out[0].HasChildren)
}

func TestExposeDepthOne(t *testing.T) {
	root := Build(seqEntries(t, 3))
	out := Expose(root, "", 1)
	require.Len(t, out, 2)
	require.Equal(t, "left", out[0].Path)
	require.True(t, out[0].HasChildren)
	require.Equal(t, "right", out[1].Path)
	require.False(t, out[1].HasChildren)
	require.Equal(t, []types.RecordID{seqID(t, 2)}, out[1].UUIDs)
}

func TestExposeReportsEarlyLeaves(t *testing.T) {
	root := Build(seqEntries(t, 3))
	out := Expose(root, "", 2)
	paths := make([]string, len(out))
	for i, s := range out {
		paths[i] = s.Path
	}
	// the promoted leaf sits one level above the requested depth and is
	// reported at its own path
	require.Equal(t, []string{"left.left", "left.right", "right"}, paths)
}

func TestExposeLeafRoot(t *testing.T) {
	root := Build(seqEntries(t, 1))
	out := Expose(root, "", 1)
	require.Len(t, out, 1)
	require.Equal(t, "", out[0].Path)
	require.False(t, out[0].HasChildren)
}

func TestSubtreeSoundness(t *testing.T) {
	entries := seqEntries(t, 17)
	root := Build(entries)

	for depth := 0; depth < 6; depth++ {
		for _, summary := range Expose(root, "", depth) {
			sub := make(map[types.RecordID]types.Hash32, len(summary.UUIDs))
			for _, id := range summary.UUIDs {
				sub[id] = entries[id]
			}
			require.Equal(t, summary.Hash, Build(sub).Hash,
				"depth=%d path=%q", depth, summary.Path)

			node, ok := root.Subtree(summary.Path)
			require.True(t, ok)
			require.Equal(t, summary.Hash, node.Hash)
		}
	}
}
