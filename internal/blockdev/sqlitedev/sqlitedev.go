// Package sqlitedev is a blockdev.Device that stores each block as a row in
// a SQLite table, via database/sql and the pure-Go modernc.org/sqlite
// driver — the same driver the rest of this codebase's benchmark suite
// pulls in, here put to direct use as a block store rather than a SQL
// engine backend.
package sqlitedev

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/blockcache/pagecache/internal/blockdev"
	"github.com/blockcache/pagecache/internal/status"
)

// Device stores blocks as rows of (block_no INTEGER PRIMARY KEY, data BLOB)
// in a SQLite database.
type Device struct {
	db        *sql.DB
	blockSize uint32
}

// Open opens (creating the table if necessary) a SQLite-backed block
// device at dsn (e.g. a file path, or ":memory:").
func Open(dsn string, blockSize uint32) (*Device, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite block store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blocks (
		block_no INTEGER PRIMARY KEY,
		data     BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blocks table: %w", err)
	}
	return &Device{db: db, blockSize: blockSize}, nil
}

func (d *Device) Close() error { return d.db.Close() }

func (d *Device) BlockSize() uint32 { return d.blockSize }

func (d *Device) ReadBlocks(dst []byte, blocks blockdev.BlockRange, done func(status.Status)) {
	blockLen := int(d.blockSize)
	for i := uint64(0); i < blocks.Len(); i++ {
		blockNo := blocks.Start + i
		dstSlice := dst[int(i)*blockLen : int(i+1)*blockLen]

		var data []byte
		err := d.db.QueryRow(`SELECT data FROM blocks WHERE block_no = ?`, blockNo).Scan(&data)
		switch {
		case err == sql.ErrNoRows:
			for j := range dstSlice {
				dstSlice[j] = 0
			}
		case err != nil:
			done(status.Timm("blockdev", "read block %d: %v", blockNo, err))
			return
		default:
			copy(dstSlice, data)
		}
	}
	done(status.OK)
}

func (d *Device) WriteBlocks(src []byte, blocks blockdev.BlockRange, done func(status.Status)) {
	blockLen := int(d.blockSize)
	for i := uint64(0); i < blocks.Len(); i++ {
		blockNo := blocks.Start + i
		srcSlice := src[int(i)*blockLen : int(i+1)*blockLen]
		if _, err := d.db.Exec(
			`INSERT INTO blocks (block_no, data) VALUES (?, ?)
			 ON CONFLICT(block_no) DO UPDATE SET data = excluded.data`,
			blockNo, srcSlice,
		); err != nil {
			done(status.Timm("blockdev", "write block %d: %v", blockNo, err))
			return
		}
	}
	done(status.OK)
}
