package testutils

import (
	"io"
)

// ChunkedReader returns exactly one of the given chunks per Read call, so tests control where read boundaries fall.
type ChunkedReader struct {
	Chunks []string
	Closed int
	pos    int
	next   []byte
}

// Read copies from the current chunk and moves on to the next chunk only once the current one is consumed.
func (c *ChunkedReader) Read(p []byte) (n int, err error) {
	for len(c.next) == 0 {
		if c.pos >= len(c.Chunks) {
			err = io.EOF
			return
		}
		c.next = []byte(c.Chunks[c.pos])
		c.pos++
	}

	n = copy(p, c.next)
	c.next = c.next[n:]
	return
}

// Close counts how often the reader was closed.
func (c *ChunkedReader) Close() error {
	c.Closed++
	return nil
}
