// Package memdev is an in-memory blockdev.Device backed by a single byte
// slice. It always completes synchronously, which makes it the right
// backend for exercising the page cache's "completion may run with the
// cache lock already held" fast path.
package memdev

import (
	"fmt"
	"sync"

	"github.com/blockcache/pagecache/internal/blockdev"
	"github.com/blockcache/pagecache/internal/status"
)

// Device is a fixed-size, zero-initialized block store held entirely in
// memory.
type Device struct {
	mu        sync.Mutex
	blockSize uint32
	data      []byte
}

// New allocates a Device covering lengthBytes bytes, split into blocks of
// blockSize bytes. lengthBytes need not be a multiple of blockSize; the
// final partial block is zero-padded.
func New(lengthBytes uint64, blockSize uint32) *Device {
	n := (lengthBytes + uint64(blockSize) - 1) / uint64(blockSize) * uint64(blockSize)
	return &Device{blockSize: blockSize, data: make([]byte, n)}
}

func (d *Device) BlockSize() uint32 { return d.blockSize }

func (d *Device) ReadBlocks(dst []byte, blocks blockdev.BlockRange, done func(status.Status)) {
	off := blocks.Start * uint64(d.blockSize)
	n := blocks.Len() * uint64(d.blockSize)
	d.mu.Lock()
	if off+n > uint64(len(d.data)) {
		d.mu.Unlock()
		done(status.Timm("blockdev", "read %v out of range (device has %d bytes)", blocks, len(d.data)))
		return
	}
	copy(dst, d.data[off:off+n])
	d.mu.Unlock()
	done(status.OK)
}

func (d *Device) WriteBlocks(src []byte, blocks blockdev.BlockRange, done func(status.Status)) {
	off := blocks.Start * uint64(d.blockSize)
	n := blocks.Len() * uint64(d.blockSize)
	if uint64(len(src)) < n {
		done(status.Timm("blockdev", "write source too short: have %d, need %d", len(src), n))
		return
	}
	d.mu.Lock()
	if off+n > uint64(len(d.data)) {
		d.mu.Unlock()
		done(status.Timm("blockdev", "write %v out of range (device has %d bytes)", blocks, len(d.data)))
		return
	}
	copy(d.data[off:off+n], src[:n])
	d.mu.Unlock()
	done(status.OK)
}

// String implements fmt.Stringer for debug logging.
func (d *Device) String() string {
	return fmt.Sprintf("memdev(%d bytes, block=%d)", len(d.data), d.blockSize)
}
