package bodyparsing

import (
	"errors"
	"io"
	"sync"

	"proxywaf/waf"
)

var errReaderClosed = errors.New("body reader is closed")

const replayReadSize = 32 * 1024

// ReplayableBody wraps a request body that can only be read once, so that it can be read from the start any number of times.
// Bytes are pulled from the source only as far as the furthest reader has read, and are kept for later readers.
// At most maxLength bytes are kept. Readers that get that far fail with waf.ErrTotalBytesLimitExceeded.
type ReplayableBody struct {
	mu        sync.Mutex
	src       io.ReadCloser
	buf       []byte
	srcErr    error
	maxLength int
	exceeded  bool
}

// NewReplayableBody takes ownership of src. A nil src behaves like an empty body. A maxLength of 0 means no limit.
func NewReplayableBody(src io.ReadCloser, maxLength int) *ReplayableBody {
	b := &ReplayableBody{src: src, maxLength: maxLength}
	if src == nil {
		b.srcErr = io.EOF
	}
	return b
}

// NewReader returns a reader positioned at the start of the body.
func (b *ReplayableBody) NewReader() io.ReadCloser {
	return &replayReader{body: b}
}

// Buffered returns how many bytes have been pulled from the source so far.
func (b *ReplayableBody) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Exceeded reports whether the body turned out to be longer than the limit.
func (b *ReplayableBody) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

// Close closes the source. Readers keep serving bytes that were already pulled.
func (b *ReplayableBody) Close() (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.src != nil {
		err = b.src.Close()
		b.src = nil
	}
	if b.srcErr == nil {
		b.srcErr = io.ErrUnexpectedEOF
	}
	return
}

func (b *ReplayableBody) readAt(p []byte, pos int) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pos >= len(b.buf) {
		if b.srcErr != nil {
			err = b.srcErr
			return
		}

		b.fill()
	}

	n = copy(p, b.buf[pos:])
	return
}

// fill pulls the next batch of bytes from the source. Must be called with mu held.
func (b *ReplayableBody) fill() {
	size := replayReadSize
	if b.maxLength > 0 && b.maxLength-len(b.buf) < size {
		// One byte past the limit tells a body of exactly maxLength bytes from a longer one.
		size = b.maxLength - len(b.buf) + 1
	}

	tmp := make([]byte, size)
	n, err := b.src.Read(tmp)
	b.buf = append(b.buf, tmp[:n]...)
	if err != nil {
		b.srcErr = err
	}

	if b.maxLength > 0 && len(b.buf) > b.maxLength {
		b.buf = b.buf[:b.maxLength]
		b.exceeded = true
		b.srcErr = waf.ErrTotalBytesLimitExceeded
	}
}

type replayReader struct {
	body   *ReplayableBody
	pos    int
	closed bool
}

func (r *replayReader) Read(p []byte) (n int, err error) {
	if r.closed {
		err = errReaderClosed
		return
	}
	if len(p) == 0 {
		return
	}

	n, err = r.body.readAt(p, r.pos)
	r.pos += n
	return
}

func (r *replayReader) Close() error {
	r.closed = true
	return nil
}
