package bodyparsing

import (
	"bufio"
	"io"
	"strings"
)

// formPairReader splits an application/x-www-form-urlencoded body into raw key/value pairs without unescaping them.
type formPairReader struct {
	r    *bufio.Reader
	done bool
}

func newFormPairReader(r io.Reader) *formPairReader {
	return &formPairReader{r: bufio.NewReaderSize(r, 1024)}
}

// next returns the next pair. A pair without '=' is a key with an empty value, and "&&" yields an empty pair.
// io.EOF is returned once the last pair was consumed.
func (d *formPairReader) next() (key string, val string, err error) {
	if d.done {
		err = io.EOF
		return
	}

	pair, err := d.r.ReadString('&')
	switch {
	case err == nil:
		pair = pair[:len(pair)-1]
	case err == io.EOF:
		d.done = true
		if pair == "" {
			return
		}
		err = nil
	default:
		return
	}

	key, val, _ = strings.Cut(pair, "=")
	return
}
