package pagecache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blockcache/pagecache/internal/status"
)

// pageState is one of the legal states of a Page. See the transition table
// in (*Pagecache).setStateLocked.
type pageState uint8

const (
	stateFree pageState = iota
	stateAlloc
	stateReading
	stateNew
	stateActive
	stateDirty
)

func (s pageState) String() string {
	switch s {
	case stateFree:
		return "Free"
	case stateAlloc:
		return "Alloc"
	case stateReading:
		return "Reading"
	case stateNew:
		return "New"
	case stateActive:
		return "Active"
	case stateDirty:
		return "Dirty"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// completion is a deferred status callback, queued on a page while a fill
// is in flight (or, for writes, while a prior fill must complete first).
type completion func(status.Status)

// Page is the cache's descriptor for one page-sized, page-aligned window of
// the backing store. Its completions queue is protected by mu, which
// write-through copies into buf also take; its state, its list membership
// and every state transition are protected by the owning Pagecache's cache
// lock (see cache.go).
type Page struct {
	mu sync.Mutex

	Range ByteRange // byte-aligned, page-sized range this page covers
	buf   []byte    // page-sized backing buffer

	// phys stands in for a physical frame number: a stable, inspectable
	// identifier assigned once at allocation and retained across reuse.
	// Nothing in this package interprets it beyond that.
	phys uint64

	state       pageState
	completions []completion

	refcount int32 // atomic; 0 triggers release back to Free

	elem *list.Element // this page's node in whichever LRU list owns it
	on   *list.List     // which list elem belongs to, nil if none
}

// touchIfFilledLocked promotes or re-links p if it is already filled
// (New/Active/Dirty). It returns false for Alloc/Reading, meaning the
// caller must enqueue a completion (and possibly issue a fill) instead.
// The caller must hold the cache lock.
func (pc *Pagecache) touchIfFilledLocked(p *Page) bool {
	switch p.state {
	case stateReading, stateAlloc:
		return false
	case stateActive:
		pc.lists.moveToBack(p)
	case stateNew:
		pc.setStateLocked(p, stateActive)
	case stateDirty:
		// No current code path moves a page into Dirty (the cache is
		// write-through); a touch leaves a Dirty page where it is.
	default:
		panic(fmt.Sprintf("pagecache: touch on page %s in illegal state %s", p.Range, p.state))
	}
	return true
}

// setStateLocked performs a state transition, asserting it is legal and
// updating list membership accordingly. The caller must hold the cache
// lock, which alone serializes every transition; no caller takes p.mu
// around one, including the transitions into and out of Reading.
func (pc *Pagecache) setStateLocked(p *Page, next pageState) {
	switch next {
	case stateFree:
		if p.state != stateNew && p.state != stateActive {
			panic(fmt.Sprintf("pagecache: release from illegal state %s", p.state))
		}
		pc.lists.unlink(p)
		pc.lists.pushBack(pc.lists.free, p)
	case stateAlloc:
		// Free -> Alloc is ordinary allocation. Reading -> Alloc is the
		// fill-failure retry path: a failed fill drops the page back to
		// Alloc rather than poisoning it, so a later touch can re-issue
		// the fill instead of wedging the range forever.
		if p.state != stateFree && p.state != stateReading {
			panic(fmt.Sprintf("pagecache: alloc from illegal state %s", p.state))
		}
		pc.lists.unlink(p)
	case stateReading:
		if p.state != stateAlloc {
			panic(fmt.Sprintf("pagecache: reading from illegal state %s", p.state))
		}
	case stateNew:
		if p.state != stateReading {
			panic(fmt.Sprintf("pagecache: new from illegal state %s", p.state))
		}
		pc.lists.pushBack(pc.lists.newList, p)
	case stateActive:
		if p.state != stateNew {
			panic(fmt.Sprintf("pagecache: active from illegal state %s", p.state))
		}
		pc.lists.unlink(p)
		pc.lists.pushBack(pc.lists.active, p)
	case stateDirty:
		if p.state != stateNew && p.state != stateActive {
			panic(fmt.Sprintf("pagecache: dirty from illegal state %s", p.state))
		}
		pc.lists.unlink(p)
		pc.lists.pushBack(pc.lists.dirty, p)
	default:
		panic(fmt.Sprintf("pagecache: unknown target state %d", next))
	}
	p.state = next
}

// reserveRef increments p's refcount. The caller must already own a
// reference (or be the allocator).
func (pc *Pagecache) reserveRef(p *Page) {
	atomic.AddInt32(&p.refcount, 1)
}

// releaseRef decrements p's refcount, releasing the page back to Free when
// it reaches zero. The caller must NOT already hold the cache lock; use
// releaseRefLocked from a context that does.
func (pc *Pagecache) releaseRef(p *Page) {
	if atomic.AddInt32(&p.refcount, -1) != 0 {
		return
	}
	pc.lock()
	pc.finalizeReleaseLocked(p)
	pc.unlock()
}

// releaseRefLocked is releaseRef for a caller that already holds the cache
// lock.
func (pc *Pagecache) releaseRefLocked(p *Page) {
	if atomic.AddInt32(&p.refcount, -1) != 0 {
		return
	}
	pc.finalizeReleaseLocked(p)
}

func (pc *Pagecache) finalizeReleaseLocked(p *Page) {
	pc.index.remove(p)
	pc.setStateLocked(p, stateFree)
	for i := range p.buf {
		p.buf[i] = 0
	}
}
