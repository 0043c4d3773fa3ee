package pagecache

import (
	"fmt"

	"github.com/blockcache/pagecache/internal/blockdev"
	"github.com/blockcache/pagecache/internal/status"
)

// Write writes src — which must be exactly blocks.Len() * BlockSize bytes —
// through the cache to the backing device. The cache is write-through, not
// write-back: every byte is pushed to the device as part of this call, and
// any resident page the write overlaps is kept consistent with what was
// written. completion runs exactly once with the aggregate result.
func (pc *Pagecache) Write(src []byte, blocks BlockRange, completion func(status.Status)) {
	q := blocksToBytes(blocks, pc.blockOrder)
	if q.Empty() {
		completion(status.Timm("write", "no matching pages for range %s", q))
		return
	}

	m := newMerge(completion)
	top := m.applyMerge()

	pc.lock()
	pc.index.lookupWithGaps(q,
		func(p *Page) { pc.onWriteNode(p, src, q, m) },
		func(gap ByteRange) { pc.onWriteGap(gap, src, q, m) },
	)
	pc.unlock()

	top(status.OK)
}

// onWriteNode handles a write against an already-indexed page. Caller
// holds the cache lock.
func (pc *Pagecache) onWriteNode(p *Page, src []byte, q ByteRange, m *merge) {
	part := p.Range.Intersect(q)
	if part.Empty() {
		return
	}
	pc.reserveRef(p)
	srcOff := part.Start - q.Start
	chunk := src[srcOff : srcOff+part.Span()]

	switch p.state {
	case stateReading:
		// A fill is already in flight for this page; the write must wait
		// for it to land before it can safely overwrite part of the
		// buffer, so it rides the same completion queue a concurrent read
		// would.
		done := m.applyMerge()
		p.mu.Lock()
		p.completions = append(p.completions, func(s status.Status) {
			if !status.IsOK(s) {
				pc.runLocked(func() { pc.releaseRefLocked(p) })
				done(s)
				return
			}
			pc.runLocked(func() { pc.writeThroughLocked(p, chunk, part, done) })
		})
		p.mu.Unlock()

	case stateAlloc:
		// A prior fill failed and left this page retryable rather than
		// poisoned (see the fill-failure policy in DESIGN.md); a write
		// landing on it before anything re-fills it cannot safely proceed
		// without clobbering bytes a concurrent reader still expects to
		// come from the device, so it is reported rather than silently
		// either dropped or treated as a fresh page.
		done := m.applyMerge()
		pc.releaseRefLocked(p)
		done(status.Timm("write", "write rejected on page %s whose fill failed", p.Range))

	default:
		done := m.applyMerge()
		pc.writeThroughLocked(p, chunk, part, done)
	}
}

// onWriteGap handles a write against a maximal sub-range of q not covered
// by any indexed page. A stride that covers its whole page is written
// straight through without reading the page's prior content first, since
// every byte of the page is about to be overwritten anyway; a stride that
// only partially covers its page must fill the rest of the page from the
// device first, so later reads of the untouched portion see real data.
// Caller holds the cache lock.
func (pc *Pagecache) onWriteGap(gap ByteRange, src []byte, q ByteRange, m *merge) {
	if gap.Start >= pc.length {
		return
	}
	if gap.End > pc.length {
		gap.End = pc.length
	}
	for offset := gap.Start; offset < gap.End; {
		r := pc.pageRange(offset)
		stride := r.Intersect(gap)

		p, s := pc.allocate(r)
		if !status.IsOK(s) {
			done := m.applyMerge()
			done(s)
			return
		}
		pc.index.insert(p)
		pc.reserveRef(p)

		srcOff := stride.Start - q.Start
		chunk := src[srcOff : srcOff+stride.Span()]

		if stride == r {
			pc.setStateLocked(p, stateReading)
			pc.setStateLocked(p, stateNew)
			done := m.applyMerge()
			pc.writeThroughLocked(p, chunk, stride, done)
		} else {
			done := m.applyMerge()
			pc.setStateLocked(p, stateReading)
			p.mu.Lock()
			p.completions = append(p.completions, func(s status.Status) {
				if !status.IsOK(s) {
					pc.runLocked(func() { pc.releaseRefLocked(p) })
					done(s)
					return
				}
				pc.runLocked(func() { pc.writeThroughLocked(p, chunk, stride, done) })
			})
			p.mu.Unlock()
			pc.issueFill(p)
		}

		offset = r.End
	}
}

// writeThroughLocked copies chunk into p's buffer at the offset implied by
// part, touches p, and pushes the written bytes to the device, releasing
// the reference reserved for this write once the device acknowledges.
// Caller holds the cache lock; p must already be filled (New/Active/Dirty).
func (pc *Pagecache) writeThroughLocked(p *Page, chunk []byte, part ByteRange, done func(status.Status)) {
	if part.End > pc.length {
		panic(fmt.Sprintf("pagecache: write at %s extends past device length %d", part, pc.length))
	}

	p.mu.Lock()
	off := part.Start - p.Range.Start
	copy(p.buf[off:off+part.Span()], chunk)
	p.mu.Unlock()

	pc.touchIfFilledLocked(p)

	blocks := bytesToBlocks(part, pc.blockOrder)
	aligned := blocksToBytes(blocks, pc.blockOrder)
	if aligned.Empty() {
		pc.releaseRefLocked(p)
		done(status.OK)
		return
	}

	bufOff := aligned.Start - p.Range.Start
	devBlocks := blockdev.BlockRange{Start: blocks.Start, End: blocks.End}
	out := p.buf[bufOff : bufOff+aligned.Span()]
	pc.dev.WriteBlocks(out, devBlocks, func(s status.Status) {
		pc.runLocked(func() { pc.releaseRefLocked(p) })
		done(s)
	})
}
