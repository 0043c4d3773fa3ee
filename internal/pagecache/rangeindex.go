package pagecache

import "sort"

// rangeIndex maps disjoint byte ranges to the Page that owns them. All
// methods assume the owning Pagecache's cache lock is held; there is no
// internal locking here.
//
// Pages are kept in a slice ordered by Range.Start. Insertion and removal
// are O(n); lookups are O(log n + k) for k matched pages. That's the right
// trade-off for a page cache, where reads/writes dominate and the working
// set rarely needs more than a handful of inserts per call.
type rangeIndex struct {
	pages []*Page // sorted by Range.Start, disjoint
}

func newRangeIndex() *rangeIndex {
	return &rangeIndex{}
}

// insert adds p to the index. p.Range must not overlap any existing entry;
// violating that is a programmer error and panics.
func (ix *rangeIndex) insert(p *Page) {
	i := sort.Search(len(ix.pages), func(i int) bool { return ix.pages[i].Range.Start >= p.Range.Start })
	if i > 0 && ix.pages[i-1].Range.End > p.Range.Start {
		panic("pagecache: range index insert overlaps preceding entry")
	}
	if i < len(ix.pages) && ix.pages[i].Range.Start < p.Range.End {
		panic("pagecache: range index insert overlaps following entry")
	}
	ix.pages = append(ix.pages, nil)
	copy(ix.pages[i+1:], ix.pages[i:])
	ix.pages[i] = p
}

// remove deletes p from the index. It is a no-op if p is not present.
func (ix *rangeIndex) remove(p *Page) {
	i := sort.Search(len(ix.pages), func(i int) bool { return ix.pages[i].Range.Start >= p.Range.Start })
	if i < len(ix.pages) && ix.pages[i] == p {
		ix.pages = append(ix.pages[:i], ix.pages[i+1:]...)
	}
}

// lookupWithGaps visits every indexed page intersecting q, in ascending
// order of start, interleaved with onGap calls for every maximal
// sub-range of q not covered by any indexed page. It returns false only
// when q is empty, meaning no traversal happened at all; this is the
// "no matching pages for range" condition surfaced to callers.
//
// Handlers (onGap in particular) are allowed to allocate new pages and
// insert them into this very index. To stay correct under that, the set
// of nodes and gaps to visit is snapshotted before any handler runs, so a
// mid-traversal insert never perturbs the slice we're walking.
func (ix *rangeIndex) lookupWithGaps(q ByteRange, onNode func(*Page), onGap func(ByteRange)) bool {
	if q.Empty() {
		return false
	}

	type item struct {
		page *Page     // nil for a gap
		gap  ByteRange // valid when page == nil
	}
	var items []item

	cursor := q.Start
	i := sort.Search(len(ix.pages), func(i int) bool { return ix.pages[i].Range.End > q.Start })
	for ; i < len(ix.pages); i++ {
		p := ix.pages[i]
		if p.Range.Start >= q.End {
			break
		}
		if p.Range.Start > cursor {
			items = append(items, item{gap: ByteRange{Start: cursor, End: p.Range.Start}})
		}
		items = append(items, item{page: p})
		if p.Range.End > cursor {
			cursor = p.Range.End
		}
	}
	if cursor < q.End {
		items = append(items, item{gap: ByteRange{Start: cursor, End: q.End}})
	}

	for _, it := range items {
		if it.page != nil {
			onNode(it.page)
		} else {
			onGap(it.gap)
		}
	}
	return true
}
