// pkg/tftree/tftree.go
// Package tftree implements the order-(2,4) search tree that solves the
// one-dimensional Range Location subproblem of the FIS-tree: given a set of
// 32-bit endpoints, map any point to the elementary interval that contains
// it. The tree balances by merging a freshly inserted key into its parent
// and propagating any resulting overflow split upward, rather than by
// rotation.
//
// Tree is generic over the leaf payload type T, which the fistree package
// instantiates with its own node pointer type -- this is the Go
// generalization of the original's void* leaf children, which held either
// further (2,4)-tree nodes or opaque FIS-tree nodes depending on a leaf
// flag.
package tftree

import (
	"fisclass/pkg/arena"
)

// ErrAllocFailed is returned when the backing arena.Region refuses an
// allocation during Insert or Make. The caller must abandon the
// in-progress build; releasing the Region reclaims everything built so
// far in one call.
var ErrAllocFailed = arena.ErrRegionFull

// node is one (2,4)-tree node: 0-3 keys in strictly increasing order and,
// for an internal node, one more child than it has keys. child[i] holds a
// *node[T] while the node is internal, or a T leaf payload once the node
// is a leaf -- the payload is nil/zero until a later pass (fistree's
// assignCells) fills it in; Insert and Make never read or write it.
type node[T any] struct {
	null     bool
	leaf     bool
	keyCount int
	keys     [3]uint32
	child    [4]any
}

func (n *node[T]) childNode(i int) *node[T] {
	c, _ := n.child[i].(*node[T])
	return c
}

func (n *node[T]) setChildNode(i int, c *node[T]) {
	n.child[i] = c
}

// Payload returns the leaf payload stored at child slot i. It is the
// caller's responsibility to only call this on a leaf node.
func (n *node[T]) payload(i int) T {
	p, _ := n.child[i].(T)
	return p
}

func (n *node[T]) setPayload(i int, v T) {
	n.child[i] = v
}

// hasKey reports whether key appears among n's keys.
func (n *node[T]) hasKey(key uint32) bool {
	for i := 0; i < n.keyCount; i++ {
		if n.keys[i] == key {
			return true
		}
	}
	return false
}

// childIndexForKey returns which of n's keyCount+1 children a descent for
// key should follow: child i holds values in [keys[i-1], keys[i]).
func (n *node[T]) childIndexForKey(key uint32) int {
	for i := 0; i < n.keyCount; i++ {
		if key < n.keys[i] {
			return i
		}
	}
	return n.keyCount
}

// Node is the opaque handle to a leaf cell returned by DescendToLeaf and
// consumed by Payload/SetPayload; it is exported only so fistree can walk every
// elementary interval of a freshly built tree during the leaf-assignment
// pass (spec.md §4.2 step 4).
type Node[T any] = node[T]

// Tree is an order-(2,4) search tree over uint32 keys with leaf payload
// type T. The zero value is not usable; create one with New.
type Tree[T any] struct {
	region *arena.Region[node[T]]
	root   *node[T]
}

// New creates an empty Tree backed by a fresh arena.Region. chunkSize
// tunes the Region's allocation granularity; pass 0 for the default.
func New[T any](chunkSize int) *Tree[T] {
	return &Tree[T]{region: arena.NewWithChunkSize[node[T]](chunkSize)}
}

// NewWithLimit creates an empty Tree whose backing Region refuses
// allocation past maxNodes nodes, for exercising the allocation-failure
// path.
func NewWithLimit[T any](chunkSize, maxNodes int) *Tree[T] {
	return &Tree[T]{region: arena.NewWithLimit[node[T]](chunkSize, maxNodes)}
}

// IsNull reports whether this tree is the degenerate null tree: no
// endpoints have ever been inserted, and the whole axis is one
// AnyToAny elementary interval hung directly on the tree.
func (t *Tree[T]) IsNull() bool {
	return t.root != nil && t.root.null
}

// Empty reports whether nothing has been inserted yet.
func (t *Tree[T]) Empty() bool {
	return t.root == nil
}

// Root exposes the root node for fistree's leaf-assignment walk.
func (t *Tree[T]) Root() *Node[T] {
	return t.root
}

// RootPayload returns the payload hung on the null tree's sole cell. Only
// meaningful when IsNull reports true.
func (t *Tree[T]) RootPayload() T {
	return t.root.payload(0)
}

// SetRootPayload assigns the payload of the null tree's sole cell.
func (t *Tree[T]) SetRootPayload(v T) {
	t.root.setPayload(0, v)
}

// Find reports whether key already exists as a key somewhere in the tree.
func (t *Tree[T]) Find(key uint32) bool {
	cur := t.root
	for cur != nil && !cur.leaf && !cur.null {
		if cur.hasKey(key) {
			return true
		}
		cur = cur.childNode(cur.childIndexForKey(key))
	}
	return cur != nil && !cur.null && cur.hasKey(key)
}

// DescendToLeaf walks from the root to the leaf node whose key range
// contains value, returning the elementary-interval index within that leaf
// and the leaf itself. Call Payload/SetPayload with the returned index.
func (t *Tree[T]) DescendToLeaf(value uint32) (leaf *Node[T], index int) {
	return DescendToLeaf(t.root, value)
}

// DescendToLeaf walks from root to the leaf node whose key range contains
// value, for callers holding a bare node pointer rather than a Tree --
// namely fistree's query, which descends into the root of a nested
// dimension's RL-tree (a FIS node's NextRL) without owning that tree.
func DescendToLeaf[T any](root *Node[T], value uint32) (leaf *Node[T], index int) {
	if root == nil {
		return nil, 0
	}
	if root.null {
		return root, 0
	}
	cur := root
	for !cur.leaf {
		cur = cur.childNode(cur.childIndexForKey(value))
	}
	return cur, cur.childIndexForKey(value)
}

// IsNull reports whether root is the null sentinel: the degenerate
// one-cell tree standing for "no endpoints, the whole axis is one
// AnyToAny cell".
func IsNull[T any](root *Node[T]) bool {
	return root != nil && root.null
}

// Payload returns the leaf payload at index within leaf.
func Payload[T any](leaf *Node[T], index int) T {
	return leaf.payload(index)
}

// SetPayload assigns the leaf payload at index within leaf.
func SetPayload[T any](leaf *Node[T], index int, v T) {
	leaf.setPayload(index, v)
}

// Leaf reports whether n is a leaf (or the null sentinel, which behaves as
// a one-cell leaf).
func Leaf[T any](n *Node[T]) bool {
	return n == nil || n.leaf || n.null
}

// KeyCount returns the number of keys in n (0 for the null sentinel).
func KeyCount[T any](n *Node[T]) int {
	if n == nil || n.null {
		return 0
	}
	return n.keyCount
}

// Key returns n's i-th key.
func Key[T any](n *Node[T], i int) uint32 {
	return n.keys[i]
}

// Child returns n's i-th child (for internal nodes).
func Child[T any](n *Node[T], i int) *Node[T] {
	return n.childNode(i)
}

// Insert adds key to the tree. A zero key is only meaningful as the very
// first insert into an empty tree, where it produces the null sentinel
// (spec.md §3: "no key equals 0 inside the tree"); tftree_make never
// inserts a zero key for this reason, so this path only matters for
// direct callers of Insert with an empty-axis tree.
func (t *Tree[T]) Insert(key uint32) error {
	hold, err := t.region.TryAlloc()
	if err != nil {
		return err
	}
	hold.keys[0] = key
	hold.keyCount = 1

	if t.root == nil {
		if key == 0 {
			hold.null = true
		} else {
			hold.leaf = true
		}
		t.root = hold
		return nil
	}

	parent := t.findParent(hold)
	hold, err = t.merge(parent, hold)
	if err != nil {
		return err
	}

	for hold.keyCount == 1 {
		if hold == t.root {
			break
		}
		parent = t.findParent(hold)
		hold, err = t.merge(parent, hold)
		if err != nil {
			return err
		}
	}
	return nil
}

// findParent locates the node that key-bearing node target belongs under.
// When target is not yet linked into the tree (the common case: a freshly
// allocated 1-key node about to be inserted), the identity check below
// never succeeds and the descent simply runs to the leaf that should
// contain target's key -- i.e. this also serves as descend-to-leaf for
// insertion. When target is already linked (a node re-surfacing after a
// split, being merged one level up), the identity check finds its true
// parent.
func (t *Tree[T]) findParent(target *node[T]) *node[T] {
	cur := t.root
	guide := target.keys[0]
	for !cur.leaf {
		idx := cur.childIndexForKey(guide)
		nc := cur.childNode(idx)
		if nc == target {
			return cur
		}
		cur = nc
	}
	return cur
}

// merge absorbs child, a node with exactly one key, into parent. If parent
// has room (0, 1 or 2 keys) the key and child's two child slots are
// folded in directly. If parent is already full (3 keys), it is split:
// the middle of the four ordered keys is promoted into parent (which
// keeps only that one key), and two fresh nodes take the remaining keys
// and children: the left one the two lowest keys and three children, the
// right one the highest key and two children. If parent was a leaf, it stops being one; the two fresh
// nodes become the new leaves.
func (t *Tree[T]) merge(parent, child *node[T]) (*node[T], error) {
	switch parent.keyCount {
	case 0:
		parent.keys[0] = child.keys[0]
		parent.child[0] = child.child[0]
		parent.child[1] = child.child[1]
		parent.keyCount = 1
		return parent, nil

	case 1:
		var keys [2]uint32
		var kids [3]any
		if child.keys[0] < parent.keys[0] {
			keys = [2]uint32{child.keys[0], parent.keys[0]}
			kids = [3]any{child.child[0], child.child[1], parent.child[1]}
		} else {
			keys = [2]uint32{parent.keys[0], child.keys[0]}
			kids = [3]any{parent.child[0], child.child[0], child.child[1]}
		}
		parent.keys[0], parent.keys[1] = keys[0], keys[1]
		parent.child[0], parent.child[1], parent.child[2] = kids[0], kids[1], kids[2]
		parent.keyCount = 2
		return parent, nil

	case 2:
		var keys [3]uint32
		var kids [4]any
		switch {
		case child.keys[0] < parent.keys[0]:
			keys = [3]uint32{child.keys[0], parent.keys[0], parent.keys[1]}
			kids = [4]any{child.child[0], child.child[1], parent.child[1], parent.child[2]}
		case child.keys[0] < parent.keys[1]:
			keys = [3]uint32{parent.keys[0], child.keys[0], parent.keys[1]}
			kids = [4]any{parent.child[0], child.child[0], child.child[1], parent.child[2]}
		default:
			keys = [3]uint32{parent.keys[0], parent.keys[1], child.keys[0]}
			kids = [4]any{parent.child[0], parent.child[1], child.child[0], child.child[1]}
		}
		parent.keys[0], parent.keys[1], parent.keys[2] = keys[0], keys[1], keys[2]
		parent.child[0], parent.child[1], parent.child[2], parent.child[3] = kids[0], kids[1], kids[2], kids[3]
		parent.keyCount = 3
		return parent, nil

	default: // 3 keys: full, must split
		return t.split(parent, child)
	}
}

// split handles merging a 1-key child into a full (3-key) parent. The four
// ordered keys (parent's three plus child's one) are split as (k0,k1) into
// a fresh left node and (k3) into a fresh right node, with k2 promoted
// into parent, which is left holding only that single key and the two
// fresh nodes as its two children.
func (t *Tree[T]) split(parent, child *node[T]) (*node[T], error) {
	lchild, err := t.region.TryAlloc()
	if err != nil {
		return parent, err
	}
	rchild, err := t.region.TryAlloc()
	if err != nil {
		return parent, err
	}

	var keys [4]uint32
	var kids [5]any
	switch {
	case child.keys[0] < parent.keys[0]:
		keys = [4]uint32{child.keys[0], parent.keys[0], parent.keys[1], parent.keys[2]}
		kids = [5]any{child.child[0], child.child[1], parent.child[1], parent.child[2], parent.child[3]}
	case child.keys[0] < parent.keys[1]:
		keys = [4]uint32{parent.keys[0], child.keys[0], parent.keys[1], parent.keys[2]}
		kids = [5]any{parent.child[0], child.child[0], child.child[1], parent.child[2], parent.child[3]}
	case child.keys[0] < parent.keys[2]:
		keys = [4]uint32{parent.keys[0], parent.keys[1], child.keys[0], parent.keys[2]}
		kids = [5]any{parent.child[0], parent.child[1], child.child[0], child.child[1], parent.child[3]}
	default:
		keys = [4]uint32{parent.keys[0], parent.keys[1], parent.keys[2], child.keys[0]}
		kids = [5]any{parent.child[0], parent.child[1], parent.child[2], child.child[0], child.child[1]}
	}

	lchild.keys[0], lchild.keys[1] = keys[0], keys[1]
	lchild.child[0], lchild.child[1], lchild.child[2] = kids[0], kids[1], kids[2]
	lchild.keyCount = 2

	rchild.keys[0] = keys[3]
	rchild.child[0], rchild.child[1] = kids[3], kids[4]
	rchild.keyCount = 1

	wasLeaf := parent.leaf
	parent.keys[0] = keys[2]
	parent.keys[1] = 0
	parent.keys[2] = 0
	parent.child[0] = lchild
	parent.child[1] = rchild
	parent.child[2] = nil
	parent.child[3] = nil
	parent.keyCount = 1

	if wasLeaf {
		parent.leaf = false
		lchild.leaf = true
		rchild.leaf = true
	}

	return parent, nil
}

// Make inserts every nonzero key in keys that is not already present. On
// allocation failure it tears down whatever this Make call built by
// releasing the tree's region, and returns the error; a tree in this state
// must not be used further.
func (t *Tree[T]) Make(keys []uint32) error {
	for _, k := range keys {
		if k == 0 || t.Find(k) {
			continue
		}
		if err := t.Insert(k); err != nil {
			t.Release()
			return err
		}
	}
	return nil
}

// Release tears down the tree by releasing its backing arena.Region in one
// call -- the Go-native equivalent of the original's recursive tftree_clean
// walk, made trivial by arena ownership (design note: "a region owning all
// FIS nodes for one root and freed en masse on destroy").
func (t *Tree[T]) Release() {
	t.region.Release()
	t.root = nil
}
