package pagecache

import "fmt"

// ByteRange is a half-open byte interval [Start, End).
type ByteRange struct {
	Start uint64
	End   uint64
}

// Span returns the number of bytes covered by r.
func (r ByteRange) Span() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r ByteRange) Empty() bool { return r.End <= r.Start }

// Intersect returns the overlap of r and o. The result is empty if they
// don't overlap.
func (r ByteRange) Intersect(o ByteRange) ByteRange {
	start := r.Start
	if o.Start > start {
		start = o.Start
	}
	end := r.End
	if o.End < end {
		end = o.End
	}
	if end < start {
		end = start
	}
	return ByteRange{Start: start, End: end}
}

// Overlaps reports whether r and o share any byte.
func (r ByteRange) Overlaps(o ByteRange) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// BlockRange is a half-open interval of block numbers [Start, End).
type BlockRange struct {
	Start uint64
	End   uint64
}

// Len returns the number of blocks covered by r.
func (r BlockRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// bytesToBlocks converts a byte range to a block range by right-shifting
// both ends by blockOrder, matching the backing device's block-addressing.
func bytesToBlocks(r ByteRange, blockOrder uint) BlockRange {
	return BlockRange{Start: r.Start >> blockOrder, End: r.End >> blockOrder}
}

// blocksToBytes converts a block range to a byte range by left-shifting
// both ends by blockOrder.
func blocksToBytes(r BlockRange, blockOrder uint) ByteRange {
	return ByteRange{Start: r.Start << blockOrder, End: r.End << blockOrder}
}
