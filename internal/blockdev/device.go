// Package blockdev defines the block-I/O contract consumed by the page
// cache, and a handful of concrete backends that implement it.
package blockdev

import "github.com/blockcache/pagecache/internal/status"

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

// Device is the block-I/O contract the page cache consumes. Implementations
// may invoke done synchronously, inline within the ReadBlocks/WriteBlocks
// call, or asynchronously from another goroutine; the cache's fill and
// write-through paths are written to tolerate either.
type Device interface {
	// ReadBlocks reads Len(blocks) blocks into dst, which must be exactly
	// blocks.Len()*BlockSize() bytes, and invokes done with the result.
	ReadBlocks(dst []byte, blocks BlockRange, done func(status.Status))

	// WriteBlocks writes Len(blocks) blocks from src, which must be
	// exactly blocks.Len()*BlockSize() bytes, and invokes done with the
	// result. The device must not retain src past done being called.
	WriteBlocks(src []byte, blocks BlockRange, done func(status.Status))

	// BlockSize returns the device's fixed block size in bytes.
	BlockSize() uint32
}
