// Package filedev is a blockdev.Device backed by a flat file: os.OpenFile
// with O_RDWR|O_CREATE, ReadAt/WriteAt at a computed byte offset, no
// buffering of our own.
package filedev

import (
	"fmt"
	"os"

	"github.com/blockcache/pagecache/internal/blockdev"
	"github.com/blockcache/pagecache/internal/status"
)

// Device is a block device backed by a single OS file.
type Device struct {
	f         *os.File
	blockSize uint32
}

// Open opens (creating if necessary) the file at path as a block device
// with the given block size.
func Open(path string, blockSize uint32) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open block file: %w", err)
	}
	return &Device{f: f, blockSize: blockSize}, nil
}

func (d *Device) Close() error { return d.f.Close() }

func (d *Device) BlockSize() uint32 { return d.blockSize }

func (d *Device) ReadBlocks(dst []byte, blocks blockdev.BlockRange, done func(status.Status)) {
	off := int64(blocks.Start) * int64(d.blockSize)
	n := int(blocks.Len()) * int(d.blockSize)
	if _, err := d.f.ReadAt(dst[:n], off); err != nil {
		done(status.Timm("blockdev", "read blocks %v: %v", blocks, err))
		return
	}
	done(status.OK)
}

func (d *Device) WriteBlocks(src []byte, blocks blockdev.BlockRange, done func(status.Status)) {
	off := int64(blocks.Start) * int64(d.blockSize)
	n := int(blocks.Len()) * int(d.blockSize)
	if _, err := d.f.WriteAt(src[:n], off); err != nil {
		done(status.Timm("blockdev", "write blocks %v: %v", blocks, err))
		return
	}
	done(status.OK)
}
