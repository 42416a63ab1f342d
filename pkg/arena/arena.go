// pkg/arena/arena.go
// Package arena provides a chunked bump allocator ("region") for the
// fixed-size nodes of a tftree/fistree build. A Region owns every node
// allocated from it for the lifetime of one classifier root and is
// released in one call, instead of reclaiming nodes one at a time with
// per-node reference counts.
package arena

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DefaultChunkSize is the number of elements allocated per chunk when a
// Region is created with New instead of NewWithChunkSize.
const DefaultChunkSize = 1024

// ErrRegionFull is returned by TryAlloc when a Region created with a node
// limit (NewWithLimit) has exhausted it. This is the Go-level stand-in for
// the original's kmalloc failure during a (2,4)-tree split: the caller
// abandons the in-progress build and releases the region.
var ErrRegionFull = errors.New("arena: region capacity exceeded")

// liveRegions counts Regions that have been created but not yet Released,
// exposed via Live for leak-detecting tests (spec.md's "Teardown
// completeness" property).
var liveRegions int64

// Live returns the number of Regions currently allocated but not
// Released. Tests use this to assert that destroy leaves no leaks.
func Live() int64 {
	return atomic.LoadInt64(&liveRegions)
}

// Region is a generic chunked bump allocator for a single node type T.
// Alloc hands out pointers into a chunk whose backing array never moves,
// so pointers returned by Alloc remain valid until Release.
type Region[T any] struct {
	mu        sync.Mutex
	chunkSize int
	maxNodes  int // 0 = unlimited
	allocated int
	chunks    []chunk[T]
	released  bool
}

type chunk[T any] struct {
	items []T
	next  int
	pin   *pin
}

// New creates a Region using DefaultChunkSize.
func New[T any]() *Region[T] {
	return NewWithChunkSize[T](DefaultChunkSize)
}

// NewWithChunkSize creates a Region whose chunks hold chunkSize elements
// each. A larger chunkSize amortizes allocation overhead for big builds at
// the cost of over-allocating small ones.
func NewWithChunkSize[T any](chunkSize int) *Region[T] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	atomic.AddInt64(&liveRegions, 1)
	return &Region[T]{chunkSize: chunkSize}
}

// NewWithLimit creates a Region that refuses TryAlloc once maxNodes nodes
// have been handed out, to exercise the allocation-failure path spec.md §7
// requires of a real implementation.
func NewWithLimit[T any](chunkSize, maxNodes int) *Region[T] {
	r := NewWithChunkSize[T](chunkSize)
	r.maxNodes = maxNodes
	return r
}

// Alloc returns a pointer to a new zero-valued T, backed by the region. It
// panics if the region was created with NewWithLimit and that limit is
// exhausted -- callers that need to handle exhaustion (tftree's merge/split
// path) must use TryAlloc instead.
func (r *Region[T]) Alloc() *T {
	n, err := r.TryAlloc()
	if err != nil {
		panic(err)
	}
	return n
}

// TryAlloc returns a pointer to a new zero-valued T, or ErrRegionFull if
// the region's node limit (set via NewWithLimit) has been reached.
func (r *Region[T]) TryAlloc() (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxNodes > 0 && r.allocated >= r.maxNodes {
		return nil, ErrRegionFull
	}

	if len(r.chunks) == 0 || r.chunks[len(r.chunks)-1].next >= len(r.chunks[len(r.chunks)-1].items) {
		r.growLocked()
	}

	c := &r.chunks[len(r.chunks)-1]
	node := &c.items[c.next]
	c.next++
	r.allocated++
	return node, nil
}

func (r *Region[T]) growLocked() {
	items := make([]T, r.chunkSize)
	r.chunks = append(r.chunks, chunk[T]{items: items, pin: pinSlab(items)})
}

// pinSlab best-effort-pins a chunk's backing array resident in RAM, so a
// classifier's working set is not paged out between builds. A failure to
// pin (permission, platform, rlimit) is silently tolerated: pinning is a
// latency optimization, never a correctness requirement.
func pinSlab[T any](items []T) *pin {
	if len(items) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero)) * len(items)
	if size == 0 {
		return nil
	}
	addr := unsafe.Pointer(&items[0])
	if err := mlock(addr, size); err != nil {
		return nil
	}
	return &pin{addr: addr, size: size}
}

func unpinSlab(p *pin) {
	if p == nil {
		return
	}
	munlock(p.addr, p.size)
}

// pin records the address range a chunk was locked at, so Release can
// unlock it.
type pin struct {
	addr unsafe.Pointer
	size int
}

// NodeCount returns the number of nodes handed out so far, for tests and
// diagnostics.
func (r *Region[T]) NodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.allocated
}

// Release frees every chunk at once. It is idempotent: calling Release on
// an already-released Region is a no-op, mirroring destroy's tolerance of
// a null root.
func (r *Region[T]) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return
	}
	for _, c := range r.chunks {
		unpinSlab(c.pin)
	}
	r.chunks = nil
	r.released = true
	atomic.AddInt64(&liveRegions, -1)
}
