package testutils

import (
	"bytes"
	"io"
)

// MockReader produces whole copies of Content until one more copy would go past Length bytes.
// Content defaults to a run of 'a' characters.
type MockReader struct {
	Length  int
	Content []byte
	pos     int
}

func (m *MockReader) Read(p []byte) (n int, err error) {
	if m.Content == nil {
		m.Content = bytes.Repeat([]byte("a"), 42)
	}

	limit := m.Length - m.Length%len(m.Content)
	if m.pos >= limit {
		err = io.EOF
		return
	}

	for n < len(p) && m.pos < limit {
		c := copy(p[n:], m.Content[m.pos%len(m.Content):])
		n += c
		m.pos += c
	}
	return
}
