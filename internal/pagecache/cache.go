// Package pagecache implements a range-addressable, page-granular,
// write-through cache in front of a block device (internal/blockdev).
//
// Two locks guard cache state. The cache lock (Pagecache.mu) protects the
// range index, the LRU lists, and every state transition that moves a page
// between lists. A page's own lock (Page.mu) protects its pending
// completions queue and the copies a write makes into its buffer; a page's
// state changes only under the cache lock. Code that needs both always
// takes the cache lock first.
package pagecache

import (
	"context"
	"fmt"
	"log"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/blockcache/pagecache/internal/blockdev"
)

// Config describes the geometry of a Pagecache.
type Config struct {
	Length    uint64 // total addressable length in bytes
	PageSize  uint32 // must be a power of two, >= BlockSize
	BlockSize uint32 // must be a power of two
	MaxPages  int    // 0 means unbounded
}

// Stats is a point-in-time snapshot of cache occupancy and cumulative
// counters, returned by Pagecache.Stats.
type Stats struct {
	Free, New, Active, Dirty int
	TotalPages               int
	Hits, Misses             uint64
	FillFailures             uint64
}

// Pagecache is a block-backed page cache. The zero value is not usable;
// construct one with NewPagecache.
type Pagecache struct {
	mu    sync.Mutex
	index *rangeIndex
	lists *lruLists

	pendingMu sync.Mutex
	pending   []func()

	pageOrder  uint
	blockOrder uint
	length     uint64
	pageSize   uint64

	dev blockdev.Device

	frameCounter uint64 // atomic
	totalPages   int    // guarded by mu
	maxPages     int    // 0 means unbounded

	hits, misses, fillFailures uint64 // atomic
}

// NewPagecache validates cfg and constructs a Pagecache over dev.
func NewPagecache(cfg Config, dev blockdev.Device) (*Pagecache, error) {
	if cfg.PageSize == 0 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return nil, fmt.Errorf("pagecache: page size %d is not a power of two", cfg.PageSize)
	}
	if cfg.BlockSize == 0 || cfg.BlockSize&(cfg.BlockSize-1) != 0 {
		return nil, fmt.Errorf("pagecache: block size %d is not a power of two", cfg.BlockSize)
	}
	if cfg.PageSize < cfg.BlockSize {
		return nil, fmt.Errorf("pagecache: page size %d smaller than block size %d", cfg.PageSize, cfg.BlockSize)
	}
	if dev.BlockSize() != cfg.BlockSize {
		return nil, fmt.Errorf("pagecache: device block size %d does not match config %d", dev.BlockSize(), cfg.BlockSize)
	}

	return &Pagecache{
		index:      newRangeIndex(),
		lists:      newLRULists(),
		pageOrder:  uint(bits.TrailingZeros32(cfg.PageSize)),
		blockOrder: uint(bits.TrailingZeros32(cfg.BlockSize)),
		length:     cfg.Length,
		pageSize:   uint64(cfg.PageSize),
		maxPages:   cfg.MaxPages,
		dev:        dev,
	}, nil
}

// lock acquires the cache lock.
func (pc *Pagecache) lock() { pc.mu.Lock() }

// unlock drains any work queued by runLocked calls that arrived while this
// lock was held (the "completion ran with the cache lock already held"
// case), then releases the lock. Every locked section must release via
// unlock rather than calling pc.mu.Unlock() directly.
func (pc *Pagecache) unlock() {
	pc.drainPendingLocked()
	pc.mu.Unlock()
}

// runLocked runs fn while holding the cache lock. If the lock is already
// held — typically because a block device completed synchronously, inline
// within a call made from a locked section further up the same goroutine's
// stack — fn is instead queued and run by that outer section's unlock
// before it releases the lock. A non-blocking TryLock attempt, rather than
// a re-entrant mutex, is what makes this safe to call from a completion
// that might be running either inline or from another goroutine.
func (pc *Pagecache) runLocked(fn func()) {
	if pc.mu.TryLock() {
		fn()
		pc.unlock()
		return
	}
	pc.pendingMu.Lock()
	pc.pending = append(pc.pending, fn)
	pc.pendingMu.Unlock()
}

func (pc *Pagecache) drainPendingLocked() {
	for {
		pc.pendingMu.Lock()
		if len(pc.pending) == 0 {
			pc.pendingMu.Unlock()
			return
		}
		work := pc.pending
		pc.pending = nil
		pc.pendingMu.Unlock()
		for _, fn := range work {
			fn()
		}
	}
}

// pageRange returns the page-aligned ByteRange containing offset.
func (pc *Pagecache) pageRange(offset uint64) ByteRange {
	start := (offset >> pc.pageOrder) << pc.pageOrder
	return ByteRange{Start: start, End: start + pc.pageSize}
}

// nextFrame returns a fresh, stable "physical frame number" for a newly
// allocated page.
func (pc *Pagecache) nextFrame() uint64 {
	return atomic.AddUint64(&pc.frameCounter, 1)
}

// Stats returns a snapshot of cache occupancy and cumulative counters.
func (pc *Pagecache) Stats() Stats {
	pc.lock()
	free, newC, active, dirty := pc.lists.counts()
	total := pc.totalPages
	pc.unlock()
	return Stats{
		Free:         free,
		New:          newC,
		Active:       active,
		Dirty:        dirty,
		TotalPages:   total,
		Hits:         atomic.LoadUint64(&pc.hits),
		Misses:       atomic.LoadUint64(&pc.misses),
		FillFailures: atomic.LoadUint64(&pc.fillFailures),
	}
}

// RunMaintenance is a logged-only sweep over the cache's LRU lists. It
// never evicts; eviction policy is left to the host, per the cache's
// design. Intended to be invoked on a schedule by a server binary.
func (pc *Pagecache) RunMaintenance(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	s := pc.Stats()
	log.Printf("pagecache: maintenance pass: free=%d new=%d active=%d dirty=%d total=%d hits=%d misses=%d fillFailures=%d",
		s.Free, s.New, s.Active, s.Dirty, s.TotalPages, s.Hits, s.Misses, s.FillFailures)
}

func (pc *Pagecache) recordHit()         { atomic.AddUint64(&pc.hits, 1) }
func (pc *Pagecache) recordMiss()        { atomic.AddUint64(&pc.misses, 1) }
func (pc *Pagecache) recordFillFailure() { atomic.AddUint64(&pc.fillFailures, 1) }
