package client

import (
	"fmt"
	"io"
	"os"

	"github.com/bluetap-cloud/bluetap/internal/chunkstore"
)

// Chunk is one checksummed block of a source file.
type Chunk struct {
	ID       int
	Data     []byte
	Checksum string
}

// Chunker is a bounded, single-pass iterator over a source file's chunks.
// Each replica stream opens its own Chunker; restarting a transfer means
// reopening the file, never rewinding shared state.
type Chunker struct {
	f         *os.File
	chunkSize int64
	next      int
}

// OpenChunker opens path for chunked reading.
func OpenChunker(path string, chunkSize int64) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size %d must be positive", chunkSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	return &Chunker{f: f, chunkSize: chunkSize}, nil
}

// Next returns the next chunk in order, or io.EOF after the last one. The
// final chunk may be shorter than the chunk size.
func (c *Chunker) Next() (Chunk, error) {
	buf := make([]byte, c.chunkSize)
	n, err := io.ReadFull(c.f, buf)
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Chunk{}, io.EOF
		}
		return Chunk{}, fmt.Errorf("read chunk %d: %w", c.next, err)
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return Chunk{}, fmt.Errorf("read chunk %d: %w", c.next, err)
	}

	data := buf[:n]
	chunk := Chunk{
		ID:       c.next,
		Data:     data,
		Checksum: chunkstore.Checksum(data),
	}
	c.next++
	return chunk, nil
}

// Close releases the underlying file.
func (c *Chunker) Close() error {
	return c.f.Close()
}
