// pkg/rule/rule.go
// Package rule holds the classifier's D-dimensional rule type and the
// forward/inverse handle variant used to thread a rule through both of its
// possible interval sets without the signed-integer encoding the original
// implementation used.
package rule

import "fisclass/pkg/interval"

// MaxDim is the largest number of classification dimensions a Rule may
// carry, matching MAX_FISTREE_DIM in the reference implementation.
const MaxDim = 5

// WorstCost is the sentinel cost assigned to a FIS-tree cell with no
// matching rule: 2^31 - 1.
const WorstCost = 1<<31 - 1

// The five canonical dimensions used by the surrounding firewall. The core
// never interprets these; they exist only so callers and tests share one
// vocabulary.
const (
	DimIfid = iota
	DimSrcAddr
	DimDstAddr
	DimSrcPort
	DimDstPort
)

// PortProtoShift is the bit offset at which a caller packs an IP protocol
// number above the 16-bit port value of DimSrcPort/DimDstPort. Purely a
// convention of the caller -- the core treats every dimension as an opaque
// uint32.
const PortProtoShift = 16

// Rule is one classification rule: an interval per dimension, a priority
// cost, an opaque action reference, and (for bidirectional rules) a mirror
// interval set used when the rule is evaluated in the reverse direction.
type Rule struct {
	Field        [MaxDim]interval.Interval
	InverseField [MaxDim]interval.Interval
	Bidirectional bool

	// Cost is the rule's priority: smaller |Cost| wins. Cost <= 0 marks an
	// inactive or pseudo rule, skipped by the builder.
	Cost int32

	// Action is an opaque pointer to a caller-owned action record. The
	// core never dereferences it.
	Action any

	// RefCount counts FIS-tree leaves that selected this rule as their
	// base or delta rule. Maintained by the builder for diagnostics only;
	// never read by Query.
	RefCount int32
}

// Active reports whether the rule participates in classification: pseudo
// and inactive rules (Cost <= 0) are skipped by the builder.
func (r *Rule) Active() bool {
	return r.Cost > 0
}

// Handle names one of a rule's two interval sets: its forward field, or
// (for a bidirectional rule) its inverse field. This replaces the
// original's signed-integer invert encoding (positive index = forward,
// -(index+1) = inverse) with an explicit tagged variant.
type Handle struct {
	Index   int
	Inverse bool
}

// Forward returns the handle naming rules[index]'s forward field.
func Forward(index int) Handle { return Handle{Index: index} }

// InverseOf returns the handle naming rules[index]'s inverse field.
func InverseOf(index int) Handle { return Handle{Index: index, Inverse: true} }

// Rule returns the underlying rule this handle names.
func (h Handle) Rule(rules []Rule) *Rule {
	return &rules[h.Index]
}

// FieldOf returns the interval this handle selects in dimension dim: the
// forward field, or the inverse field when h.Inverse is set.
func FieldOf(rules []Rule, dim int, h Handle) *interval.Interval {
	if h.Inverse {
		return &rules[h.Index].InverseField[dim]
	}
	return &rules[h.Index].Field[dim]
}

// Cost returns the priority of the rule h names. A bidirectional rule's
// inverse form shares its forward form's cost -- direction does not change
// priority.
func Cost(rules []Rule, h Handle) int32 {
	return rules[h.Index].Cost
}
