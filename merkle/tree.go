// Package merkle builds the deterministic binary hash tree over the hash
// index and answers subtree queries for the sync protocol.
//
// Leaves are the (uuid, content hash) pairs sorted by uuid. Adjacent nodes
// are paired level by level; when a level has an odd number of nodes the last
// one is promoted unchanged. An internal node hashes the concatenation of the
// lowercase hex encodings of its children's hashes and carries the sorted
// union of the uuids below it.
package merkle

import (
	"slices"
	"strings"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/hash"
)

const (
	// TokenLeft and TokenRight are the path tokens addressing children.
	TokenLeft  = "left"
	TokenRight = "right"
	// PathSeparator joins path tokens.
	PathSeparator = "."
)

// EmptyRootHash is the root hash of a tree over zero records: sha256 of the
// empty string. Two empty trees compare equal through it.
var EmptyRootHash = types.CalcHash32(nil)

// Node is a node of the built tree. Built trees are immutable; rebuilding
// produces a fresh tree.
type Node struct {
	Hash  types.Hash32
	UUIDs []types.RecordID
	Left  *Node
	Right *Node
	Leaf  bool
}

// HasChildren reports whether the node has at least one child.
func (n *Node) HasChildren() bool {
	return !n.Leaf && (n.Left != nil || n.Right != nil)
}

// Summary describes one exposed node. It is the element type of the
// subtree-hashes payload.
type Summary struct {
	Path        string           `json:"path"`
	Hash        types.Hash32     `json:"hash"`
	UUIDs       []types.RecordID `json:"uuids"`
	HasChildren bool             `json:"has_children"`
}

// Build constructs the canonical tree over the given index entries. It is a
// pure function: two builds from equal maps produce byte-identical hashes.
func Build(entries map[types.RecordID]types.Hash32) *Node {
	if len(entries) == 0 {
		return &Node{Hash: EmptyRootHash, Leaf: true}
	}

	ids := make([]types.RecordID, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, types.RecordID.Compare)

	level := make([]*Node, len(ids))
	for i, id := range ids {
		level[i] = &Node{
			Hash:  entries[id],
			UUIDs: []types.RecordID{id},
			Leaf:  true,
		}
	}

	for len(level) > 1 {
		next := make([]*Node, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, join(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			// odd node is promoted unchanged, without re-hashing
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

func join(left, right *Node) *Node {
	hasher := hash.GetHasher()
	defer func() {
		hasher.Reset()
		hash.PutHasher(hasher)
	}()
	hasher.Write([]byte(left.Hash.Hex()))
	hasher.Write([]byte(right.Hash.Hex()))
	var h types.Hash32
	hasher.Sum(h[:0])

	return &Node{
		Hash:  h,
		UUIDs: mergeSorted(left.UUIDs, right.UUIDs),
		Left:  left,
		Right: right,
	}
}

func mergeSorted(a, b []types.RecordID) []types.RecordID {
	merged := make([]types.RecordID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Compare(b[j]) <= 0 {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	return append(merged, b[j:]...)
}

// Subtree returns the node addressed by a dotted left/right path. The empty
// path addresses the receiver. The second return value is false if the path
// walks past a leaf, addresses a missing branch, or contains an unknown
// token.
func (n *Node) Subtree(path string) (*Node, bool) {
	node := n
	if path == "" {
		return node, true
	}
	for _, token := range strings.Split(path, PathSeparator) {
		if node == nil {
			return nil, false
		}
		switch token {
		case TokenLeft:
			node = node.Left
		case TokenRight:
			node = node.Right
		default:
			return nil, false
		}
	}
	if node == nil {
		return nil, false
	}
	return node, true
}

// JoinPath appends a token to a base path.
func JoinPath(base, token string) string {
	if base == "" {
		return token
	}
	return base + PathSeparator + token
}

// Expose returns summaries for the frontier at the given distance below n:
// every descendant exactly depth levels down, plus any leaf encountered
// earlier (a promoted node may sit above the requested depth). With depth 0
// the result is the singleton summary of n itself. A missing branch is
// skipped; the present sibling is reported alone.
func Expose(n *Node, basePath string, depth int) []Summary {
	if n == nil {
		return nil
	}
	if depth == 0 || !n.HasChildren() {
		return []Summary{{
			Path:        basePath,
			Hash:        n.Hash,
			UUIDs:       n.UUIDs,
			HasChildren: n.HasChildren(),
		}}
	}
	var out []Summary
	if n.Left != nil {
		out = append(out, Expose(n.Left, JoinPath(basePath, TokenLeft), depth-1)...)
	}
	if n.Right != nil {
		out = append(out, Expose(n.Right, JoinPath(basePath, TokenRight), depth-1)...)
	}
	return out
}
