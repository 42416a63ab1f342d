// pkg/fistree/fistree.go
// Package fistree implements the Fat Inverted Segment tree: a layered
// classifier index with one RL-tree per classification dimension, each
// elementary interval summarized by a FIS node carrying the best-cost
// matching rule. A built Root is immutable; Query never mutates it, and
// Destroy tears the whole thing down by releasing the FIS-node region and
// each RL-tree's region, instead of a recursive reference-counted walk.
package fistree

import (
	"fisclass/pkg/arena"
	"fisclass/pkg/rule"
	"fisclass/pkg/tftree"
)

// Node is one FIS-tree node: the summary attached to a single elementary
// interval of one dimension's RL-tree.
type Node struct {
	// Cost is the chosen (effective) cost for this cell. BaseCost is the
	// cost of the best rule whose dimension interval contains the cell;
	// Cost starts equal to BaseCost and would diverge only once a delta
	// overlay is applied.
	Cost     int32
	BaseCost int32

	// Rule is the chosen rule, meaningful only at the last dimension;
	// higher layers expose their match through NextRL instead. BaseRule
	// is the rule that produced BaseCost.
	Rule     *rule.Rule
	BaseRule *rule.Rule

	// NextRL is the root of the next dimension's RL-tree, for every
	// dimension but the last.
	NextRL *tftree.Node[*Node]

	// Parent points at the FIS node of the enclosing interval one level
	// up in the same dimension -- the layer's own root cell, covering the
	// dimension's whole axis within the current outer cell. The layer
	// root's own Parent is nil.
	Parent *Node

	// Delta is a forward-compatibility hook for an overlay ruleset
	// applicable to this cell on top of BaseCost/BaseRule; no build path
	// populates it.
	Delta []rule.Handle

	// RefCount counts one reference for the node itself plus one for every
	// cell whose Parent it is; a layer root drops its own reference unless
	// it is hung on a null RL-tree. Maintained for diagnostics only; Query
	// never reads it.
	RefCount int32
}

// Root is an immutable, fully built classifier. The zero value is not
// meaningful; obtain one from Build.
type Root struct {
	top      *tftree.Node[*Node]
	fisNodes *arena.Region[Node]
	rlTrees  []*tftree.Tree[*Node]
	maxDim   int
}

// builder threads the allocation state of one Build call through the
// recursive layer construction, so an allocation failure partway through
// can release exactly what has been built so far.
type builder struct {
	fisNodes *arena.Region[Node]
	rlTrees  []*tftree.Tree[*Node]
}

func newBuilder() *builder {
	return &builder{fisNodes: arena.New[Node]()}
}

func (b *builder) release() {
	b.fisNodes.Release()
	for _, rl := range b.rlTrees {
		rl.Release()
	}
}

// Build constructs a classifier over rules, projecting dimensions
// 0..maxDim. Only rules with Cost > 0 participate; their forward field is
// always projected, their inverse field only when Bidirectional is set
// (the original projects every active rule's inverse handle
// unconditionally, but a non-bidirectional rule's InverseField is not
// guaranteed populated -- its zero value is AnyToAny, which would wrongly
// match every value, so inverse projection is gated here on
// Bidirectional). An empty active rule set legally returns a nil Root.
func Build(rules []rule.Rule, maxDim int) (*Root, error) {
	proj := make([]rule.Handle, 0, 2*len(rules))
	for i := range rules {
		if rules[i].Cost <= 0 {
			continue
		}
		proj = append(proj, rule.Forward(i))
		if rules[i].Bidirectional {
			proj = append(proj, rule.InverseOf(i))
		}
	}
	if len(proj) == 0 {
		return nil, nil
	}

	b := newBuilder()
	top, err := b.buildLayer(rules, proj, 0, maxDim)
	if err != nil {
		b.release()
		return nil, err
	}

	return &Root{
		top:      top,
		fisNodes: b.fisNodes,
		rlTrees:  b.rlTrees,
		maxDim:   maxDim,
	}, nil
}

// buildLayer builds one dimension's RL-tree over proj, the projection
// list inherited from the enclosing cell, and returns its root node.
func (b *builder) buildLayer(rules []rule.Rule, proj []rule.Handle, dim, maxDim int) (*tftree.Node[*Node], error) {
	layerRoot, err := b.makeNode(rules, proj, dim, maxDim, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	// makeNode always increments RefCount for itself and its parent; the
	// layer root has no parent of its own (it stands for the dimension's
	// whole axis within the current outer cell), so its self-increment is
	// reset here, mirroring the original's explicit "rootf->refcnt = 0".
	layerRoot.RefCount = 0

	rl := tftree.New[*Node](0)
	b.rlTrees = append(b.rlTrees, rl)

	hadEndpoint := false
	for _, h := range proj {
		iv := rule.FieldOf(rules, dim, h)
		if iv.IsAnyToAny() {
			continue
		}
		for _, k := range iv.Endpoints() {
			hadEndpoint = true
			if rl.Find(k) {
				continue
			}
			if err := rl.Insert(k); err != nil {
				return nil, err
			}
		}
	}

	if !hadEndpoint {
		if err := rl.Insert(0); err != nil {
			return nil, err
		}
		rl.SetRootPayload(layerRoot)
		layerRoot.RefCount++
		return rl.Root(), nil
	}

	if err := b.assignCells(rules, proj, dim, maxDim, 0, 0, rl.Root(), layerRoot); err != nil {
		return nil, err
	}
	return rl.Root(), nil
}

// assignCells walks an RL-tree built over dimension dim's endpoints and
// constructs a FIS node for every elementary interval it induces. A node
// with k keys induces k+1 sub-intervals; internal nodes simply recurse
// into each child with the corresponding sub-range.
func (b *builder) assignCells(rules []rule.Rule, proj []rule.Handle, dim, maxDim int, begin, end uint32, node *tftree.Node[*Node], parent *Node) error {
	kc := tftree.KeyCount(node)
	leaf := tftree.Leaf(node)
	lo := begin
	for i := 0; i <= kc; i++ {
		hi := end
		if i < kc {
			hi = tftree.Key(node, i)
		}
		if leaf {
			cell, err := b.makeNode(rules, proj, dim, maxDim, lo, hi, parent)
			if err != nil {
				return err
			}
			tftree.SetPayload(node, i, cell)
		} else {
			if err := b.assignCells(rules, proj, dim, maxDim, lo, hi, tftree.Child(node, i), parent); err != nil {
				return err
			}
		}
		lo = hi
	}
	return nil
}

// makeNode constructs the FIS node covering [begin, end) at dimension dim:
// it projects proj onto the cell, records the best surviving rule's cost,
// and either binds the rule directly (at the last dimension) or recurses
// into the next dimension's layer.
func (b *builder) makeNode(rules []rule.Rule, proj []rule.Handle, dim, maxDim int, begin, end uint32, parent *Node) (*Node, error) {
	node, err := b.fisNodes.TryAlloc()
	if err != nil {
		return nil, err
	}

	next := projectOnto(rules, proj, dim, begin, end)
	if len(next) > 0 {
		best := next[0]
		node.Cost = rule.Cost(rules, best)
		node.BaseCost = node.Cost

		if dim == maxDim {
			r := best.Rule(rules)
			node.Rule = r
			node.BaseRule = r
			r.RefCount++
		} else {
			nextRoot, err := b.buildLayer(rules, next, dim+1, maxDim)
			if err != nil {
				return nil, err
			}
			node.NextRL = nextRoot
		}
	} else {
		node.Cost = rule.WorstCost
		node.BaseCost = rule.WorstCost
	}

	node.Parent = parent
	if parent != nil {
		parent.RefCount++
	}
	node.RefCount++

	return node, nil
}

// projectOnto returns the subsequence of proj whose dimension-dim interval
// contains [begin, end), preserving proj's cost ordering.
func projectOnto(rules []rule.Rule, proj []rule.Handle, dim int, begin, end uint32) []rule.Handle {
	out := make([]rule.Handle, 0, len(proj))
	for _, h := range proj {
		if rule.FieldOf(rules, dim, h).IncludesRange(begin, end) {
			out = append(out, h)
		}
	}
	return out
}

// Query classifies value, a tuple of maxDim+1 dimension magnitudes (the
// maxDim passed to Build), and returns the minimum-cost matching rule, or
// nil if none matches. Query performs no allocation and never mutates
// root; it is safe to call concurrently with other queries against the
// same root.
func Query(root *Root, value []uint32) *rule.Rule {
	if root == nil || root.top == nil {
		return nil
	}

	maxDim := root.maxDim
	var parentBuf [rule.MaxDim]*Node
	parent := parentBuf[:maxDim+1]
	cost := int32(rule.WorstCost)
	var result *rule.Rule

	consider := func(leaf *Node, dim int) (nextRL *tftree.Node[*Node], nextDim int) {
		if leaf.Cost < cost {
			if dim == maxDim {
				cost = leaf.Cost
				result = leaf.Rule
				return nil, dim - 1
			}
			return leaf.NextRL, dim + 1
		}
		return nil, dim - 1
	}

	rl := root.top
	dim := 0

	for dim >= 0 {
		switch {
		case parent[dim] != nil:
			leaf := parent[dim]
			parent[dim] = nil
			rl, dim = consider(leaf, dim)

		case rl == nil:
			dim--

		case tftree.IsNull(rl):
			leaf := tftree.Payload(rl, 0)
			rl, dim = consider(leaf, dim)

		default:
			leafNode, idx := tftree.DescendToLeaf(rl, value[dim])
			leaf := tftree.Payload(leafNode, idx)
			parent[dim] = leaf.Parent

			if leaf.Cost < cost {
				if dim == maxDim {
					cost = leaf.Cost
					result = leaf.Rule
				} else {
					rl = leaf.NextRL
					dim++
				}
			}
		}
	}

	return result
}

// Destroy releases every resource a Root owns: the region backing all FIS
// nodes allocated during Build, and every per-cell RL-tree's own region.
// Destroy is idempotent on nil and safe to call once all in-flight
// queries against root have finished (the caller supplies that
// quiescence guarantee).
func Destroy(root *Root) {
	if root == nil {
		return
	}
	root.fisNodes.Release()
	for _, rl := range root.rlTrees {
		rl.Release()
	}
}
