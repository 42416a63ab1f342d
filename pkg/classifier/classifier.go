// pkg/classifier/classifier.go
// Package classifier exposes the four boundary operations of the packet
// classification engine: build, query, destroy, and the interval
// constructors rule producers use to describe a dimension's acceptable
// values. It is the read-mostly, lock-free-on-the-query-path wrapper
// around pkg/fistree that publishes a newly built root with a single
// atomic store and tears down a retired root only once every in-flight
// query against it has finished.
package classifier

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fisclass/pkg/fistree"
	"fisclass/pkg/interval"
	"fisclass/pkg/rule"
)

// ErrClosed is returned by Build once Close has been called.
var ErrClosed = errors.New("classifier: closed")

// Rule, Interval and Range32 are re-exported so callers need only import
// this package to describe rules and query a Classifier.
type (
	Rule     = rule.Rule
	Interval = interval.Interval
	Range32  = interval.Range32
)

// MaxDim and WorstCost mirror the limits pkg/rule defines.
const (
	MaxDim    = rule.MaxDim
	WorstCost = rule.WorstCost
)

// The five canonical dimensions used by the surrounding firewall.
const (
	DimIfid    = rule.DimIfid
	DimSrcAddr = rule.DimSrcAddr
	DimDstAddr = rule.DimDstAddr
	DimSrcPort = rule.DimSrcPort
	DimDstPort = rule.DimDstPort
)

// MakeAnyToAny, MakeRange, MakePoint and MakeRangeSet are the interval
// constructors the external interface names explicitly: a rule producer
// builds Rule.Field/InverseField entries with these and nothing else.
func MakeAnyToAny() Interval                 { return interval.MakeAnyToAny() }
func MakeRange(begin, end uint32) Interval   { return interval.MakeRange(begin, end) }
func MakePoint(point uint32) Interval        { return interval.MakePoint(point) }
func MakeRangeSet(ranges []Range32) Interval { return interval.MakeRangeSet(ranges) }

// Classifier is the atomic-swap boundary around a fistree.Root. The zero
// value is not usable; create one with New.
type Classifier struct {
	root    atomic.Pointer[fistree.Root]
	epoch   *epochManager
	writeMu sync.Mutex
	closed  int32
	log     *slog.Logger
}

// New returns an empty Classifier. Query returns nil for every value
// until Build has run at least once. Diagnostics go to slog.Default();
// use NewWithLogger to direct them elsewhere.
func New() *Classifier {
	return NewWithLogger(slog.Default())
}

// NewWithLogger returns an empty Classifier that logs build/teardown
// diagnostics (duration, rule counts, pending teardowns) to logger
// instead of the default slog logger.
func NewWithLogger(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{epoch: newEpochManager(), log: logger}
}

// Build constructs a classifier index over rules (which must already be
// sorted ascending by |Cost|, per the external interface contract) and
// publishes it as the current root with a single atomic store. The
// previously published root, if any, is retired: it is destroyed once
// every query that observed it has returned, not synchronously here.
//
// Build serializes against other Build calls on the same Classifier; it
// never blocks a concurrent Query.
func (c *Classifier) Build(rules []rule.Rule, maxDim int) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrClosed
	}

	start := time.Now()
	newRoot, err := fistree.Build(rules, maxDim)
	if err != nil {
		c.log.Error("classifier build failed", "rules", len(rules), "elapsed", time.Since(start), "error", err)
		return err
	}

	old := c.root.Swap(newRoot)
	c.epoch.retire(old)
	c.epoch.advance()
	reclaimed := c.epoch.tryReclaim()

	c.log.Info("classifier build complete",
		"rules", len(rules), "elapsed", time.Since(start),
		"reclaimed_roots", reclaimed, "pending_teardowns", c.epoch.pendingCount())

	return nil
}

// Query classifies value, a tuple of MaxDim dimension magnitudes, against
// the currently published root. It does not take the lock that serializes
// Build; its only allocation is the reader record it registers with the
// epoch manager, which keeps the root it reads from being destroyed while
// it runs. It is safe to call concurrently with Build and with other
// Query calls, including while a Build is in flight.
func (c *Classifier) Query(value []uint32) *Rule {
	g := c.epoch.enter()
	defer g.leave()

	return fistree.Query(c.root.Load(), value)
}

// Close retires the current root and blocks until every retired root,
// including ones from prior Build calls still draining, has been
// destroyed. After Close, Build returns ErrClosed and Query always
// returns nil. Close is idempotent.
func (c *Classifier) Close() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.root.Swap(nil)
	c.epoch.retire(old)
	c.epoch.advance()
	c.epoch.drainAndReclaimAll()

	c.log.Info("classifier closed")
}

// PendingTeardowns reports how many retired roots are still waiting for
// their last reader to leave. Exposed for tests and diagnostics.
func (c *Classifier) PendingTeardowns() int {
	return c.epoch.pendingCount()
}

// ActiveReaders reports how many Query calls are currently in flight.
// Exposed for tests and diagnostics.
func (c *Classifier) ActiveReaders() int {
	return c.epoch.activeReaderCount()
}
