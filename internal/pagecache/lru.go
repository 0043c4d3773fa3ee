package pagecache

import "container/list"

// lruLists holds the four ordered page lists described by the cache's
// lifecycle: Free (returnable, zeroed pages), New (filled but touched only
// once), Active (filled and repeatedly touched), and Dirty (reserved for a
// future write-back engine; currently unreachable — see DESIGN.md). All are
// insert-at-tail, evict-from-head, and are only ever mutated while the
// owning Pagecache's cache lock is held.
type lruLists struct {
	free    *list.List
	newList *list.List
	active  *list.List
	dirty   *list.List
}

func newLRULists() *lruLists {
	return &lruLists{
		free:    list.New(),
		newList: list.New(),
		active:  list.New(),
		dirty:   list.New(),
	}
}

// pushBack inserts p at the tail of l, recording the membership on p so it
// can later be unlinked or moved without a linear search.
func (ll *lruLists) pushBack(l *list.List, p *Page) {
	p.elem = l.PushBack(p)
	p.on = l
}

// moveToBack re-links p, already a member of some list, to that list's
// tail (standard LRU refresh on touch).
func (ll *lruLists) moveToBack(p *Page) {
	if p.on != nil && p.elem != nil {
		p.on.MoveToBack(p.elem)
	}
}

// unlink removes p from whatever list currently holds it, if any. A page
// being allocated (Free -> Alloc) or mid-fill (Alloc -> Reading) sits on no
// list at all, per invariant I1.
func (ll *lruLists) unlink(p *Page) {
	if p.on != nil && p.elem != nil {
		p.on.Remove(p.elem)
	}
	p.on = nil
	p.elem = nil
}

// popFront removes and returns the head (oldest / first eviction
// candidate) of l, or nil if l is empty.
func (ll *lruLists) popFront(l *list.List) *Page {
	e := l.Front()
	if e == nil {
		return nil
	}
	p := e.Value.(*Page)
	ll.unlink(p)
	return p
}

// counts reports the current size of each list, for Stats().
func (ll *lruLists) counts() (free, newC, active, dirty int) {
	return ll.free.Len(), ll.newList.Len(), ll.active.Len(), ll.dirty.Len()
}
