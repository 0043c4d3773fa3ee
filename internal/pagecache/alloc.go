package pagecache

import "github.com/blockcache/pagecache/internal/status"

// allocate returns a Free page reused from the free list, or a freshly
// built one, covering r. The caller must hold the cache lock. The
// returned page is already transitioned to Alloc with a zero refcount —
// it is the caller's job to reserveRef it (readGapLocked does this via
// readNodeLocked, same as for a page already in the index) — and is NOT
// yet inserted into the range index, so a failed allocation attempt never
// leaves a half-registered page behind.
func (pc *Pagecache) allocate(r ByteRange) (*Page, status.Status) {
	if p := pc.lists.popFront(pc.lists.free); p != nil {
		pc.setStateLocked(p, stateAlloc)
		p.Range = r
		p.refcount = 0
		return p, status.OK
	}

	if pc.maxPages != 0 && pc.totalPages >= pc.maxPages {
		return nil, status.Timm("alloc", "page cache exhausted: %d pages in use", pc.totalPages)
	}

	p := &Page{
		Range: r,
		buf:   make([]byte, pc.pageSize),
		phys:  pc.nextFrame(),
		state: stateAlloc,
	}
	pc.totalPages++
	return p, status.OK
}
