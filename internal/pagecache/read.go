package pagecache

import (
	"log"

	"github.com/blockcache/pagecache/internal/blockdev"
	"github.com/blockcache/pagecache/internal/status"
)

// SGRead fills sg with an ordered scatter-gather list covering q and calls
// completion exactly once with the aggregate result. Buffers for pages
// already resident are populated before SGRead returns; buffers for pages
// that must be filled from the backing device are populated by the time
// completion runs. Every entry in sg.Buffers must be released (via its
// Release func) once the caller is done with it.
func (pc *Pagecache) SGRead(sg *ScatterGather, q ByteRange, completion func(status.Status)) {
	if q.Empty() {
		completion(status.Timm("read", "no matching pages for range %s", q))
		return
	}

	m := newMerge(completion)
	top := m.applyMerge()

	pc.lock()
	pc.index.lookupWithGaps(q,
		func(p *Page) { pc.readNodeLocked(sg, p, q, m) },
		func(gap ByteRange) { pc.readGapLocked(sg, gap, m) },
	)
	pc.unlock()

	top(status.OK)
}

// readNodeLocked handles one range-index hit overlapping q. Caller holds
// the cache lock.
func (pc *Pagecache) readNodeLocked(sg *ScatterGather, p *Page, q ByteRange, m *merge) {
	part := p.Range.Intersect(q)
	if part.Empty() {
		return
	}

	pc.reserveRef(p)
	slot := sg.add(part.Span())
	slot.Release = once(func() { pc.releaseRef(p) })

	if pc.touchIfFilledLocked(p) {
		pc.recordHit()
		off := part.Start - p.Range.Start
		slot.Buf = p.buf[off : off+part.Span()]
		return
	}

	pc.recordMiss()
	done := m.applyMerge()
	firstReader := p.state == stateAlloc
	if firstReader {
		pc.setStateLocked(p, stateReading)
	}

	p.mu.Lock()
	p.completions = append(p.completions, func(s status.Status) {
		if status.IsOK(s) {
			p.mu.Lock()
			off := part.Start - p.Range.Start
			slot.Buf = p.buf[off : off+part.Span()]
			p.mu.Unlock()
		}
		done(s)
	})
	p.mu.Unlock()

	if firstReader {
		pc.issueFill(p)
	}
}

// readGapLocked handles one maximal sub-range of q not covered by any
// indexed page: it allocates a fresh page per page-aligned stride and
// registers it, then defers to readNodeLocked for the now-indexed page.
// Caller holds the cache lock.
func (pc *Pagecache) readGapLocked(sg *ScatterGather, gap ByteRange, m *merge) {
	if gap.Start >= pc.length {
		return
	}
	// A page that starts before pc.length is allocated in full even if its
	// tail runs past it (issueFill already truncates the device read there
	// and leaves the rest zeroed), so the node call below still gets the
	// untruncated gap. Only the loop bound is clamped, so no further page
	// is ever allocated entirely beyond pc.length.
	limit := gap.End
	if limit > pc.length {
		limit = pc.length
	}
	for offset := gap.Start; offset < limit; {
		r := pc.pageRange(offset)
		p, s := pc.allocate(r)
		if !status.IsOK(s) {
			done := m.applyMerge()
			done(s)
			return
		}
		pc.index.insert(p)
		pc.readNodeLocked(sg, p, gap, m)
		offset = r.End
	}
}

// issueFill reads a freshly allocated page's backing bytes from the
// device. Caller holds the cache lock and p is in Reading.
func (pc *Pagecache) issueFill(p *Page) {
	end := p.Range.Start + pc.pageSize
	if end > pc.length {
		end = pc.length
	}
	if end <= p.Range.Start {
		// Entirely beyond the backing length: nothing to read, and the
		// buffer is already zeroed (pages are zeroed at release and at
		// first allocation).
		pc.onFillComplete(p, status.OK)
		return
	}

	fillRange := ByteRange{Start: p.Range.Start, End: end}
	blocks := bytesToBlocks(fillRange, pc.blockOrder)
	n := blocks.Len() << pc.blockOrder
	pc.dev.ReadBlocks(p.buf[:n], blockdev.BlockRange{Start: blocks.Start, End: blocks.End}, func(s status.Status) {
		pc.onFillComplete(p, s)
	})
}

// onFillComplete is the device's fill callback. It may run synchronously,
// with the cache lock already held by issueFill's caller, or asynchronously
// from another goroutine; runLocked handles either case.
func (pc *Pagecache) onFillComplete(p *Page, s status.Status) {
	if !status.IsOK(s) {
		pc.recordFillFailure()
		log.Printf("pagecache: fill failed for page %s: %v", p.Range, s)
	}

	pc.runLocked(func() {
		if status.IsOK(s) {
			pc.setStateLocked(p, stateNew)
		} else {
			pc.setStateLocked(p, stateAlloc)
		}
	})

	p.mu.Lock()
	waiting := p.completions
	p.completions = nil
	p.mu.Unlock()

	for _, c := range waiting {
		c(s)
	}
}

// once wraps fn so it runs at most one time, matching the release
// semantics of an SGBuffer entry (a caller may only release it once, but
// a sloppy caller calling twice must not double-release the page).
func once(fn func()) func() {
	var done bool
	return func() {
		if done {
			return
		}
		done = true
		fn()
	}
}
