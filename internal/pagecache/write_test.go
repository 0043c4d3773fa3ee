package pagecache

import (
	"bytes"
	"testing"

	"github.com/blockcache/pagecache/internal/blockdev"
	"github.com/blockcache/pagecache/internal/blockdev/memdev"
	"github.com/blockcache/pagecache/internal/status"
)

// gatedReadDevice wraps a memdev.Device and holds every ReadBlocks
// completion until release is called, letting a test keep a page pinned in
// Reading for as long as it needs to race a concurrent write against the
// fill that's still in flight.
type gatedReadDevice struct {
	*memdev.Device
	gate chan struct{}
}

func newGatedReadDevice(d *memdev.Device) *gatedReadDevice {
	return &gatedReadDevice{Device: d, gate: make(chan struct{})}
}

func (d *gatedReadDevice) ReadBlocks(dst []byte, blocks blockdev.BlockRange, done func(status.Status)) {
	go func() {
		<-d.gate
		d.Device.ReadBlocks(dst, blocks, done)
	}()
}

func (d *gatedReadDevice) release() { close(d.gate) }

// writeThrough is a synchronous helper wrapping Pagecache.Write for tests.
// offset and len(data) must both be block-aligned, matching Write's real
// contract (src must be exactly blocks.Len() * BlockSize bytes); callers
// pick block-aligned test fixtures rather than relying on this helper to
// pad or round on their behalf.
func writeThrough(t *testing.T, pc *Pagecache, offset uint64, data []byte) {
	t.Helper()
	blockSize := uint64(1) << pc.blockOrder
	if offset%blockSize != 0 || uint64(len(data))%blockSize != 0 {
		t.Fatalf("writeThrough: offset %d and len(data) %d must both be multiples of %d", offset, len(data), blockSize)
	}
	blocks := BlockRange{
		Start: offset / blockSize,
		End:   (offset + uint64(len(data))) / blockSize,
	}
	done := make(chan status.Status, 1)
	pc.Write(data, blocks, func(s status.Status) { done <- s })
	s := <-done
	if !status.IsOK(s) {
		t.Fatalf("write at %d: %v", offset, s)
	}
}

// readAll is a synchronous helper wrapping Pagecache.SGRead for tests.
func readAll(t *testing.T, pc *Pagecache, r ByteRange) []byte {
	t.Helper()
	sg := &ScatterGather{}
	done := make(chan status.Status, 1)
	pc.SGRead(sg, r, func(s status.Status) { done <- s })
	s := <-done
	if !status.IsOK(s) {
		t.Fatalf("read %v: %v", r, s)
	}
	out := append([]byte(nil), sg.Bytes()...)
	sg.ReleaseAll()
	return out
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	pc := newTestCache(t, 1<<20, 4096, 512)
	payload := bytes.Repeat([]byte{0x99}, 512)

	writeThrough(t, pc, 1024, payload)
	got := readAll(t, pc, ByteRange{Start: 1024, End: 1024 + uint64(len(payload))})

	if !bytes.Equal(got, payload) {
		t.Fatal("read back payload does not match what was written")
	}
}

func TestWriteCoveringWholePageSkipsDeviceFill(t *testing.T) {
	pc := newTestCache(t, 1<<20, 4096, 512)
	payload := bytes.Repeat([]byte{0xAB}, 4096)

	writeThrough(t, pc, 0, payload)
	got := readAll(t, pc, ByteRange{Start: 0, End: 4096})
	if !bytes.Equal(got, payload) {
		t.Fatal("whole-page write should round-trip exactly")
	}

	// Both the write and the read released their sole reference by now
	// (readAll releases internally), so the page is back on Free; only
	// one page was ever allocated for the whole exchange.
	s := pc.Stats()
	if s.TotalPages != 1 {
		t.Fatalf("expected exactly one page ever allocated, got stats %+v", s)
	}
}

func TestWritePartialPageFillsRestFromDevice(t *testing.T) {
	pc := newTestCache(t, 1<<20, 4096, 512)
	// Prime the device directly below the cache by writing a full page
	// first, then overwrite just the middle of it and confirm the
	// untouched edges still read back as the original bytes.
	full := bytes.Repeat([]byte{0x11}, 4096)
	writeThrough(t, pc, 0, full)

	patch := bytes.Repeat([]byte{0x22}, 512)
	writeThrough(t, pc, 2048, patch)

	before := readAll(t, pc, ByteRange{Start: 0, End: 2048})
	after := readAll(t, pc, ByteRange{Start: 2560, End: 4096})
	middle := readAll(t, pc, ByteRange{Start: 2048, End: 2560})

	if !bytes.Equal(before, full[:2048]) {
		t.Fatal("bytes before the patch should be unchanged")
	}
	if !bytes.Equal(after, full[2560:]) {
		t.Fatal("bytes after the patch should be unchanged")
	}
	if !bytes.Equal(middle, patch) {
		t.Fatal("patched bytes should read back as written")
	}
}

func TestWritePartialPageOnFreshPageFillsUntouchedBytesFromDevice(t *testing.T) {
	pc := newTestCache(t, 1<<20, 4096, 512)
	// Nothing has touched this page yet; a partial write must go through
	// onWriteGap's fill-then-write-check path rather than finding an
	// existing indexed page.
	patch := bytes.Repeat([]byte{0x33}, 512)
	writeThrough(t, pc, 1024, patch)

	zeroBefore := readAll(t, pc, ByteRange{Start: 0, End: 1024})
	for i, b := range zeroBefore {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 (device-filled)", i, b)
		}
	}
	got := readAll(t, pc, ByteRange{Start: 1024, End: 1536})
	if !bytes.Equal(got, patch) {
		t.Fatal("patched bytes should read back as written")
	}
}

func TestWriteDeferredOntoInFlightFillAppliesAfter(t *testing.T) {
	dev := newGatedReadDevice(memdev.New(1<<20, 512))
	pc, err := NewPagecache(Config{Length: 1 << 20, PageSize: 4096, BlockSize: 512}, dev)
	if err != nil {
		t.Fatalf("NewPagecache: %v", err)
	}

	// Start a read, which allocates the page and issues a fill that blocks
	// on dev.gate; by the time SGRead returns the page is already Reading.
	sg := &ScatterGather{}
	readDone := make(chan status.Status, 1)
	pc.SGRead(sg, ByteRange{Start: 0, End: 512}, func(s status.Status) { readDone <- s })

	// A write landing on the same page while its fill is still in flight
	// must defer rather than race the fill to the page's buffer (P7).
	payload := bytes.Repeat([]byte{0x77}, 512)
	writeDone := make(chan status.Status, 1)
	pc.Write(payload, BlockRange{Start: 0, End: 1}, func(s status.Status) { writeDone <- s })

	select {
	case s := <-writeDone:
		t.Fatalf("write completed with %v before its fill landed; it should have deferred", s)
	default:
	}

	dev.release()

	if s := <-readDone; !status.IsOK(s) {
		t.Fatalf("read: %v", s)
	}
	if s := <-writeDone; !status.IsOK(s) {
		t.Fatalf("write: %v", s)
	}
	sg.ReleaseAll()

	got := readAll(t, pc, ByteRange{Start: 0, End: 512})
	if !bytes.Equal(got, payload) {
		t.Fatal("a write deferred on an in-flight fill should apply once the fill completes")
	}
}

func TestWriteEmptyRangeFails(t *testing.T) {
	pc := newTestCache(t, 1<<20, 4096, 512)
	done := make(chan status.Status, 1)
	pc.Write(nil, BlockRange{Start: 5, End: 5}, func(s status.Status) { done <- s })
	s := <-done
	if status.IsOK(s) {
		t.Fatal("writing an empty block range should fail")
	}
}
