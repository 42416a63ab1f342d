// pkg/classifier/epoch.go
package classifier

import (
	"runtime"
	"sync"
	"sync/atomic"

	"fisclass/pkg/fistree"
)

// epochManager provides epoch-based reclamation for retired fistree.Root
// values, adapted from a copy-on-write B+ tree's reader/writer epoch
// scheme: the global epoch is a monotonically increasing counter, readers
// record the epoch they entered at, and a root retired at epoch e is only
// destroyed once every reader that might still observe it -- every reader
// that entered at or before e -- has left.
//
// The one departure from that scheme: a retired root here owns real
// off-heap-shaped state (an arena.Region per RL-tree layer), so
// reclamation must call fistree.Destroy explicitly rather than simply
// dropping the last reference and letting the garbage collector do the
// work.
type epochManager struct {
	globalEpoch uint64

	readers sync.Map // readerID -> *readerState

	retiredMu sync.Mutex
	retired   map[uint64][]*fistree.Root

	nextReaderID uint64
}

type readerState struct {
	epoch  uint64
	active int32
}

func newEpochManager() *epochManager {
	return &epochManager{
		globalEpoch: 1, // 0 is reserved to mean "reader not active"
		retired:     make(map[uint64][]*fistree.Root),
	}
}

type readerGuard struct {
	mgr      *epochManager
	state    *readerState
	readerID uint64
}

// enter records the current epoch and marks a reader active. The caller
// must call leave on the returned guard exactly once.
func (e *epochManager) enter() *readerGuard {
	readerID := atomic.AddUint64(&e.nextReaderID, 1)
	state := &readerState{epoch: atomic.LoadUint64(&e.globalEpoch), active: 1}
	e.readers.Store(readerID, state)
	return &readerGuard{mgr: e, state: state, readerID: readerID}
}

func (g *readerGuard) leave() {
	if g == nil {
		return
	}
	atomic.StoreInt32(&g.state.active, 0)
	g.mgr.readers.Delete(g.readerID)
}

// advance increments the global epoch, called by a writer after
// publishing a new root.
func (e *epochManager) advance() uint64 {
	return atomic.AddUint64(&e.globalEpoch, 1)
}

// retire records root as replaced as of the current epoch. A nil root is
// ignored, so retiring the initial (never-built) Classifier state is a
// no-op.
func (e *epochManager) retire(root *fistree.Root) {
	if root == nil {
		return
	}
	epoch := atomic.LoadUint64(&e.globalEpoch)
	e.retiredMu.Lock()
	e.retired[epoch] = append(e.retired[epoch], root)
	e.retiredMu.Unlock()
}

func (e *epochManager) minActiveEpoch() uint64 {
	min := atomic.LoadUint64(&e.globalEpoch)
	e.readers.Range(func(_, v any) bool {
		st := v.(*readerState)
		if atomic.LoadInt32(&st.active) == 1 && st.epoch < min {
			min = st.epoch
		}
		return true
	})
	return min
}

// tryReclaim destroys every retired root no longer reachable by any
// active reader and returns how many were torn down.
func (e *epochManager) tryReclaim() int {
	min := e.minActiveEpoch()

	e.retiredMu.Lock()
	defer e.retiredMu.Unlock()

	n := 0
	for epoch, roots := range e.retired {
		if epoch >= min {
			continue
		}
		for _, root := range roots {
			fistree.Destroy(root)
		}
		n += len(roots)
		delete(e.retired, epoch)
	}
	return n
}

func (e *epochManager) pendingCount() int {
	e.retiredMu.Lock()
	defer e.retiredMu.Unlock()

	n := 0
	for _, roots := range e.retired {
		n += len(roots)
	}
	return n
}

func (e *epochManager) activeReaderCount() int {
	n := 0
	e.readers.Range(func(_, v any) bool {
		st := v.(*readerState)
		if atomic.LoadInt32(&st.active) == 1 {
			n++
		}
		return true
	})
	return n
}

// drainAndReclaimAll blocks until every retired root has been destroyed,
// yielding the scheduler between polls. Used by Close, which unlike Build
// needs every resource released synchronously before it returns.
func (e *epochManager) drainAndReclaimAll() {
	for e.pendingCount() > 0 {
		if e.tryReclaim() == 0 {
			runtime.Gosched()
		}
	}
}
