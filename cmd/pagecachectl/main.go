// Command pagecachectl is an interactive, line-oriented REPL over a
// Pagecache: type read/write/stat commands at a prompt and see their
// results.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blockcache/pagecache/internal/blockdev/filedev"
	"github.com/blockcache/pagecache/internal/pagecache"
	"github.com/blockcache/pagecache/internal/status"
)

var (
	flagFile      = flag.String("file", "pagecache.img", "backing file for the cache")
	flagPageSize  = flag.Uint("page-size", 4096, "page size in bytes (power of two)")
	flagBlockSize = flag.Uint("block-size", 512, "block size in bytes (power of two)")
	flagLength    = flag.Uint64("length", 64<<20, "total addressable length in bytes")
)

func main() {
	flag.Parse()

	dev, err := filedev.Open(*flagFile, uint32(*flagBlockSize))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open error:", err)
		os.Exit(1)
	}
	defer dev.Close()

	pc, err := pagecache.NewPagecache(pagecache.Config{
		Length:    *flagLength,
		PageSize:  uint32(*flagPageSize),
		BlockSize: uint32(*flagBlockSize),
	}, dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "new pagecache error:", err)
		os.Exit(1)
	}

	interactive := false
	if fi, err := os.Stdin.Stat(); err == nil {
		interactive = (fi.Mode() & os.ModeCharDevice) != 0
	}

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	firstPrompt := true
	for {
		if interactive {
			if !firstPrompt {
				fmt.Println()
			}
			firstPrompt = false
			fmt.Print("pagecache> ")
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				fmt.Fprintln(os.Stderr, "read error:", err)
			}
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == ".quit" || line == ".exit" {
			return
		}
		dispatch(pc, line)
	}
}

func dispatch(pc *pagecache.Pagecache, line string) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "read":
		cmdRead(pc, args)
	case "write":
		cmdWrite(pc, args)
	case "stat":
		cmdStat(pc)
	case ".help":
		fmt.Println("commands: read <offset> <length>, write <offset> <hex-bytes>, stat, .quit")
	default:
		fmt.Println("ERR: unknown command", cmd, "(try .help)")
	}
}

func cmdRead(pc *pagecache.Pagecache, args []string) {
	if len(args) != 2 {
		fmt.Println("ERR: usage: read <offset> <length>")
		return
	}
	offset, err1 := strconv.ParseUint(args[0], 10, 64)
	length, err2 := strconv.ParseUint(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		fmt.Println("ERR: offset/length must be integers")
		return
	}

	sg := &pagecache.ScatterGather{}
	done := make(chan status.Status, 1)
	pc.SGRead(sg, pagecache.ByteRange{Start: offset, End: offset + length}, func(s status.Status) {
		done <- s
	})
	s := <-done
	defer sg.ReleaseAll()

	if !status.IsOK(s) {
		fmt.Println("ERR:", s)
		return
	}
	fmt.Println(hex.EncodeToString(sg.Bytes()))
}

func cmdWrite(pc *pagecache.Pagecache, args []string) {
	if len(args) != 2 {
		fmt.Println("ERR: usage: write <offset> <hex-bytes>")
		return
	}
	offset, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("ERR: offset must be an integer")
		return
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		fmt.Println("ERR: payload must be hex:", err)
		return
	}

	blockSize := uint64(*flagBlockSize)
	alignedStart := (offset / blockSize) * blockSize
	end := offset + uint64(len(data))
	alignedEnd := ((end + blockSize - 1) / blockSize) * blockSize

	payload := data
	if alignedStart != offset || alignedEnd != end {
		var err error
		payload, err = widenForWrite(pc, alignedStart, alignedEnd, offset, data)
		if err != nil {
			fmt.Println("ERR:", err)
			return
		}
	}

	blocks := pagecache.BlockRange{Start: alignedStart / blockSize, End: alignedEnd / blockSize}

	done := make(chan status.Status, 1)
	pc.Write(payload, blocks, func(s status.Status) { done <- s })
	s := <-done
	if !status.IsOK(s) {
		fmt.Println("ERR:", s)
		return
	}
	fmt.Println("OK")
}

// widenForWrite reads the current contents of [alignedStart, alignedEnd)
// and overlays data at its true offset, producing a block-aligned payload
// that doesn't lose whatever already occupied the rounding padding.
func widenForWrite(pc *pagecache.Pagecache, alignedStart, alignedEnd, offset uint64, data []byte) ([]byte, error) {
	sg := &pagecache.ScatterGather{}
	done := make(chan status.Status, 1)
	pc.SGRead(sg, pagecache.ByteRange{Start: alignedStart, End: alignedEnd}, func(s status.Status) { done <- s })
	s := <-done
	if !status.IsOK(s) {
		return nil, fmt.Errorf("align write: %v", s)
	}
	buf := append([]byte(nil), sg.Bytes()...)
	sg.ReleaseAll()
	copy(buf[offset-alignedStart:], data)
	return buf, nil
}

func cmdStat(pc *pagecache.Pagecache) {
	s := pc.Stats()
	fmt.Printf("free=%d new=%d active=%d dirty=%d total=%d hits=%d misses=%d fillFailures=%d\n",
		s.Free, s.New, s.Active, s.Dirty, s.TotalPages, s.Hits, s.Misses, s.FillFailures)
}
