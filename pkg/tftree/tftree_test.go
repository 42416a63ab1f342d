// pkg/tftree/tftree_test.go
package tftree

import (
	"math/rand"
	"sort"
	"testing"

	"fisclass/pkg/arena"
)

// inorder collects every key in the tree in ascending order, verifying
// along the way that every node it visits is itself correctly ordered and
// that internal nodes have exactly keyCount+1 children.
func inorder[T any](t *testing.T, n *Node[T], out *[]uint32) {
	t.Helper()
	if n == nil || n.null {
		return
	}
	kc := KeyCount(n)
	for i := 0; i < kc; i++ {
		if i > 0 && Key(n, i) <= Key(n, i-1) {
			t.Fatalf("node keys not strictly increasing: %v", n.keys)
		}
	}
	if Leaf(n) {
		for i := 0; i < kc; i++ {
			*out = append(*out, Key(n, i))
		}
		return
	}
	for i := 0; i <= kc; i++ {
		c := Child(n, i)
		if c == nil {
			t.Fatalf("internal node missing child %d (keyCount=%d)", i, kc)
		}
		inorder(t, c, out)
		if i < kc {
			*out = append(*out, Key(n, i))
		}
	}
}

func sortedKeys[T any](t *testing.T, tr *Tree[T]) []uint32 {
	t.Helper()
	var out []uint32
	inorder[T](t, tr.Root(), &out)
	return out
}

func TestMakeProducesSortedUniqueKeys(t *testing.T) {
	input := []uint32{50, 10, 90, 30, 70, 20, 60, 40, 80, 10, 50, 0}
	tr := New[int](4)
	defer tr.Release()

	if err := tr.Make(input); err != nil {
		t.Fatalf("Make: %v", err)
	}

	got := sortedKeys(t, tr)
	want := []uint32{10, 20, 30, 40, 50, 60, 70, 80, 90}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMakeRandomOrderAlwaysSorted(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	keys := make([]uint32, 200)
	for i := range keys {
		keys[i] = uint32(i + 1)
	}

	shuffled := append([]uint32(nil), keys...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	tr := New[int](8)
	defer tr.Release()
	if err := tr.Make(shuffled); err != nil {
		t.Fatalf("Make: %v", err)
	}

	got := sortedKeys(t, tr)
	if len(got) != len(keys) {
		t.Fatalf("got %d keys, want %d", len(got), len(keys))
	}
	for i, k := range keys {
		if got[i] != k {
			t.Fatalf("position %d: got %d, want %d", i, got[i], k)
		}
	}
}

func TestFindReportsPresenceOnly(t *testing.T) {
	tr := New[int](4)
	defer tr.Release()

	keys := []uint32{5, 15, 25, 35, 45}
	if err := tr.Make(keys); err != nil {
		t.Fatalf("Make: %v", err)
	}

	for _, k := range keys {
		if !tr.Find(k) {
			t.Errorf("Find(%d) = false, want true", k)
		}
	}
	for _, k := range []uint32{1, 10, 20, 50, 1000} {
		if tr.Find(k) {
			t.Errorf("Find(%d) = true, want false", k)
		}
	}
}

func TestDescendToLeafCoversEveryElementaryInterval(t *testing.T) {
	keys := []uint32{10, 20, 30, 40}
	tr := New[int](4)
	defer tr.Release()
	if err := tr.Make(keys); err != nil {
		t.Fatalf("Make: %v", err)
	}

	// Every probe value maps to a leaf, and the elementary interval
	// boundaries line up with the inserted endpoints: [0,10) [10,20)
	// [20,30) [30,40) [40,inf).
	probes := []struct {
		value    uint32
		cellHigh uint32 // the key immediately above value's cell, 0 = last cell
	}{
		{0, 10}, {5, 10}, {9, 10},
		{10, 20}, {15, 20}, {19, 20},
		{20, 30}, {25, 30},
		{30, 40}, {35, 40},
		{40, 0}, {1000, 0},
	}

	type cellID struct {
		leaf *Node[int]
		idx  int
	}
	cellOf := map[uint32]cellID{} // cellHigh -> the cell its probes landed in

	for _, p := range probes {
		leaf, idx := tr.DescendToLeaf(p.value)
		if leaf == nil {
			t.Fatalf("DescendToLeaf(%d): nil leaf", p.value)
		}
		if !Leaf[int](leaf) {
			t.Fatalf("DescendToLeaf(%d): returned non-leaf", p.value)
		}
		if idx < 0 || idx > KeyCount[int](leaf) {
			t.Fatalf("DescendToLeaf(%d): index %d out of range for keyCount %d", p.value, idx, KeyCount[int](leaf))
		}
		id := cellID{leaf, idx}
		if prev, ok := cellOf[p.cellHigh]; ok && prev != id {
			t.Fatalf("DescendToLeaf(%d): landed in a different cell than another probe below key %d", p.value, p.cellHigh)
		}
		cellOf[p.cellHigh] = id
	}

	// Probes from different elementary intervals must land in different cells.
	distinct := map[cellID]bool{}
	for _, id := range cellOf {
		distinct[id] = true
	}
	if len(distinct) != len(cellOf) {
		t.Fatalf("%d elementary intervals resolved to only %d distinct cells", len(cellOf), len(distinct))
	}
}

func TestLeafPayloadRoundTrips(t *testing.T) {
	type cell struct{ tag string }

	tr := New[*cell](4)
	defer tr.Release()
	if err := tr.Make([]uint32{10, 20, 30}); err != nil {
		t.Fatalf("Make: %v", err)
	}

	assignments := map[uint32]*cell{
		5:  {tag: "a"},
		15: {tag: "b"},
		25: {tag: "c"},
		35: {tag: "d"},
	}

	for probe, c := range assignments {
		leaf, idx := tr.DescendToLeaf(probe)
		SetPayload(leaf, idx, c)
	}
	for probe, c := range assignments {
		leaf, idx := tr.DescendToLeaf(probe)
		got := Payload(leaf, idx)
		if got != c {
			t.Fatalf("probe %d: payload %v, want %v", probe, got, c)
		}
	}
}

func TestNullTreeIsSingleAnyToAnyCell(t *testing.T) {
	tr := New[int](4)
	defer tr.Release()

	if err := tr.Insert(0); err != nil {
		t.Fatalf("Insert(0): %v", err)
	}
	if !tr.IsNull() {
		t.Fatalf("IsNull() = false after inserting the zero key")
	}

	tr.SetRootPayload(42)
	if got := tr.RootPayload(); got != 42 {
		t.Fatalf("RootPayload() = %d, want 42", got)
	}

	for _, probe := range []uint32{0, 1, 1000, 1 << 30} {
		leaf, idx := tr.DescendToLeaf(probe)
		if leaf != tr.Root() || idx != 0 {
			t.Fatalf("probe %d did not resolve to the null tree's sole cell", probe)
		}
	}
}

func TestInsertDuplicateKeyIsRejectedByCaller(t *testing.T) {
	// Make skips duplicates; Insert itself does not deduplicate, mirroring
	// tftree_insert, which assumes the caller (fistree_sortfield /
	// makefistree) has already checked tftree_find.
	tr := New[int](4)
	defer tr.Release()
	if err := tr.Make([]uint32{10, 20, 30}); err != nil {
		t.Fatalf("Make: %v", err)
	}
	before := sortedKeys(t, tr)

	if err := tr.Make([]uint32{10, 20, 30}); err != nil {
		t.Fatalf("Make (repeat): %v", err)
	}
	after := sortedKeys(t, tr)

	if len(before) != len(after) {
		t.Fatalf("repeat Make changed key count: %v -> %v", before, after)
	}
}

func TestReleaseFreesBackingRegion(t *testing.T) {
	before := arena.Live()

	tr := New[int](4)
	if err := tr.Make([]uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}); err != nil {
		t.Fatalf("Make: %v", err)
	}
	if arena.Live() != before+1 {
		t.Fatalf("arena.Live() = %d, want %d", arena.Live(), before+1)
	}

	tr.Release()
	if arena.Live() != before {
		t.Fatalf("arena.Live() = %d after Release, want %d", arena.Live(), before)
	}
	if tr.Root() != nil {
		t.Fatalf("Root() non-nil after Release")
	}
}

func TestMakeAllocationFailureReleasesPartialBuild(t *testing.T) {
	before := arena.Live()

	tr := NewWithLimit[int](2, 2)
	err := tr.Make([]uint32{10, 20, 30, 40, 50})
	if err == nil {
		t.Fatalf("Make: expected an allocation-failure error, got nil")
	}
	if err != ErrAllocFailed {
		t.Fatalf("Make: got error %v, want ErrAllocFailed", err)
	}

	// Make must have released the region on failure rather than leaving a
	// half-built tree and a leaked region behind.
	if arena.Live() != before {
		t.Fatalf("arena.Live() = %d after failed Make, want %d (region leaked)", arena.Live(), before)
	}
}

func TestSortedKeysHelperAgreesWithSortPkg(t *testing.T) {
	// sanity check on the test helper itself against a reference sort.
	input := []uint32{7, 3, 9, 1, 5}
	want := append([]uint32(nil), input...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	tr := New[int](4)
	defer tr.Release()
	if err := tr.Make(input); err != nil {
		t.Fatalf("Make: %v", err)
	}
	got := sortedKeys(t, tr)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
