package pagecache

// SGBuffer is one entry of a scatter-gather list: a window directly into a
// cached page's backing memory, plus the release function that drops the
// reference taken on the page's behalf. Callers that copy out of Buf
// (rather than holding onto it) should call Release as soon as they're
// done; holding the buffer without releasing keeps the page pinned.
type SGBuffer struct {
	Buf     []byte
	Release func()
}

// ScatterGather is an ordered sequence of buffers describing a logically
// contiguous read. Entries are appended in ascending byte order by the
// read path, which callers may rely on instead of re-sorting.
//
// Buffers holds *SGBuffer, not SGBuffer, deliberately: a single SGRead call
// can visit several pages, and a page already mid-fill (owned by some other
// concurrent caller) defers populating its entry until that fill completes,
// well after SGRead has returned. The entry's address is captured by that
// deferred completion closure (see readNodeLocked), so it must stay stable
// across any later sg.add call in the same SGRead appending further entries
// and reallocating the backing array; a plain []SGBuffer would let that
// reallocation silently orphan the pointer.
type ScatterGather struct {
	Buffers []*SGBuffer
}

// add appends a new, zero-valued entry and returns a pointer to it for the
// caller to fill in. length is not stored on the entry; Buf stays nil until
// the caller sets it. The pointer remains valid for the lifetime of sg
// regardless of later appends.
func (sg *ScatterGather) add(length uint64) *SGBuffer {
	b := &SGBuffer{}
	sg.Buffers = append(sg.Buffers, b)
	return b
}

// Bytes concatenates every buffer into a single slice. Intended for tests
// and small callers; production code should prefer iterating Buffers to
// avoid the copy.
func (sg *ScatterGather) Bytes() []byte {
	var n int
	for _, b := range sg.Buffers {
		n += len(b.Buf)
	}
	out := make([]byte, 0, n)
	for _, b := range sg.Buffers {
		out = append(out, b.Buf...)
	}
	return out
}

// ReleaseAll releases every entry's reference. Safe to call once after a
// caller is done consuming the buffers.
func (sg *ScatterGather) ReleaseAll() {
	for _, b := range sg.Buffers {
		if b.Release != nil {
			b.Release()
		}
	}
}
