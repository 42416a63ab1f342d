// pkg/interval/interval.go
// Package interval models the per-dimension acceptable-value sets carried
// by a classification rule: match-everything, a single half-open range, or
// a set of ranges.
package interval

// Kind discriminates the three interval variants a rule's field can take.
type Kind uint8

const (
	// AnyToAny matches every value in the dimension.
	AnyToAny Kind = iota
	// Range matches a single half-open interval [Begin, End).
	Range
	// RangeSet matches if any of Ranges contains the value.
	RangeSet
)

// Interval is the tagged variant used in place of the original C union:
// Kind selects which of the remaining fields is meaningful.
type Interval struct {
	Kind   Kind
	Begin  uint32 // Range only
	End    uint32 // Range only; 0 means +Inf
	Ranges []Range32
}

// Range32 is one (begin, end) pair of a RangeSet.
type Range32 struct {
	Begin uint32
	End   uint32
}

// MakeAnyToAny returns the interval that matches every value.
func MakeAnyToAny() Interval {
	return Interval{Kind: AnyToAny}
}

// MakeRange returns the half-open interval [begin, end). end == 0 means
// +Inf. A begin of 0 is reinterpreted as AnyToAny, matching the
// convention that point 0 is not a legal lower bound of a real range.
func MakeRange(begin, end uint32) Interval {
	if begin == 0 {
		return MakeAnyToAny()
	}
	return Interval{Kind: Range, Begin: begin, End: end}
}

// MakePoint returns the single-value interval matching exactly point.
func MakePoint(point uint32) Interval {
	return MakeRange(point, point+1)
}

// MakeRangeSet returns an interval matching any of the given ranges. Each
// range follows the same (begin, end) convention as MakeRange, but unlike
// MakeRange a RangeSet member with begin == 0 is kept literally (an empty
// rangeset or a singleton AnyToAny range is the caller's concern, not this
// constructor's).
func MakeRangeSet(ranges []Range32) Interval {
	cp := make([]Range32, len(ranges))
	copy(cp, ranges)
	return Interval{Kind: RangeSet, Ranges: cp}
}

// IncludesRange reports whether a rule carrying this interval should be
// projected onto the cell [begin, end) (end == 0 means +Inf). For Range and
// RangeSet that is whether the cell is fully contained by the interval (by
// one member, for a RangeSet). AnyToAny reports true only for the whole-axis
// cell [0, 0): AnyToAny rules are projected onto a layer's root cell, not
// onto its elementary intervals.
func (iv Interval) IncludesRange(begin, end uint32) bool {
	switch iv.Kind {
	case AnyToAny:
		return begin == 0 && end == 0
	case Range:
		return iv.Begin <= begin && (iv.End == 0 || (end > 0 && iv.End >= end))
	case RangeSet:
		for _, r := range iv.Ranges {
			if r.Begin <= begin && (r.End == 0 || (end > 0 && r.End >= end)) {
				return true
			}
		}
		return false
	default:
		// Corrupt interval type: treated as "no match", not a panic.
		return false
	}
}

// Endpoints returns the RL-tree keys this interval contributes: none for
// AnyToAny, both begin and end for Range, and 2*len(Ranges) for a
// RangeSet. A zero endpoint (the +Inf sentinel) is dropped here and never
// returned, matching the original's convention that key 0 never appears
// inside the (2,4)-tree proper.
func (iv Interval) Endpoints() []uint32 {
	switch iv.Kind {
	case AnyToAny:
		return nil
	case Range:
		pts := make([]uint32, 0, 2)
		if iv.Begin != 0 {
			pts = append(pts, iv.Begin)
		}
		if iv.End != 0 {
			pts = append(pts, iv.End)
		}
		return pts
	case RangeSet:
		pts := make([]uint32, 0, 2*len(iv.Ranges))
		for _, r := range iv.Ranges {
			if r.Begin != 0 {
				pts = append(pts, r.Begin)
			}
			if r.End != 0 {
				pts = append(pts, r.End)
			}
		}
		return pts
	default:
		return nil
	}
}

// IsAnyToAny reports whether iv matches every value.
func (iv Interval) IsAnyToAny() bool {
	return iv.Kind == AnyToAny
}
