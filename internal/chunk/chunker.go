// Package chunk implements a fixed-size, non-rolling-hash Chunker: chunk
// boundaries depend only on offset and the configured chunk size, so
// identical file content always produces identical chunk boundaries and
// therefore identical blob OIDs.
package chunk

import (
	"fmt"
	"io"

	"dagback/internal/core"
)

const (
	// DefaultChunkSize is the size of each chunk once a file crosses
	// DefaultMinChunkable.
	DefaultChunkSize = 10 << 20 // 10 MiB

	// DefaultMinChunkable is the minimum file size below which the whole
	// file is stored as a single chunk, bypassing splitting entirely.
	DefaultMinChunkable = 30 << 20 // 30 MiB
)

// FixedChunker implements core.Chunker over an io.Reader of known total
// size, using fixed offsets rather than content-defined boundaries.
type FixedChunker struct {
	r           io.Reader
	totalSize   int64
	chunkSize   int64
	minChunkable int64

	offset int64
	done   bool
}

var _ core.Chunker = (*FixedChunker)(nil)

// New returns a FixedChunker over r, whose total length must be totalSize.
// A totalSize below minChunkable yields the whole stream as a single chunk;
// otherwise chunks of chunkSize bytes are produced, with the final chunk
// possibly shorter.
func New(r io.Reader, totalSize, chunkSize, minChunkable int64) *FixedChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if minChunkable <= 0 {
		minChunkable = DefaultMinChunkable
	}
	return &FixedChunker{r: r, totalSize: totalSize, chunkSize: chunkSize, minChunkable: minChunkable}
}

func (c *FixedChunker) Next() (core.Chunk, bool, error) {
	if c.done {
		return core.Chunk{}, false, nil
	}

	size := c.chunkSize
	if c.totalSize < c.minChunkable {
		size = c.totalSize
	}
	remaining := c.totalSize - c.offset
	if remaining <= 0 {
		c.done = true
		return core.Chunk{}, false, nil
	}
	if size > remaining || size <= 0 {
		size = remaining
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(c.r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return core.Chunk{}, false, fmt.Errorf("chunk: reading: %w", err)
	}
	buf = buf[:n]

	chunk := core.Chunk{Offset: c.offset, Data: buf}
	c.offset += int64(n)
	if c.offset >= c.totalSize {
		c.done = true
	}
	return chunk, true, nil
}
