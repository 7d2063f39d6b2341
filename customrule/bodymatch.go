package customrule

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"proxywaf/waf"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog"
)

const bodyChunkSize = 8 * 1024

// bodyMatcher consumes a transformed body piece by piece. Matchers are stateful and used for one request only.
type bodyMatcher interface {
	// feed consumes the next piece. done is set when the outcome cannot change anymore.
	feed(p []byte) (matched bool, done bool)
	// finish is called once the whole body was fed without an earlier outcome.
	finish() (matched bool)
	// evidence describes what matched.
	evidence() string
}

type bodyMatcherFactory func(logger zerolog.Logger) bodyMatcher

// scanBody streams r through the transforms into the matcher, reading one chunk at a time.
func scanBody(ctx context.Context, r io.Reader, transforms []waf.Transform, m bodyMatcher) (matched bool, err error) {
	pipeline := newTransformPipeline(transforms)
	buf := make([]byte, bodyChunkSize)
	for {
		if err = ctx.Err(); err != nil {
			return
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if p := pipeline.push(buf[:n]); len(p) > 0 {
				var done bool
				if matched, done = m.feed(p); done {
					return
				}
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				err = readErr
				return
			}
			break
		}
	}

	if p := pipeline.flush(); len(p) > 0 {
		var done bool
		if matched, done = m.feed(p); done {
			return
		}
	}

	matched = m.finish()
	return
}

func longest(values []string) (n int) {
	for _, v := range values {
		if len(v) > n {
			n = len(v)
		}
	}
	return
}

type anyBodyMatcher struct {
	first []byte
}

func (m *anyBodyMatcher) feed(p []byte) (bool, bool) {
	m.first = p
	return true, true
}

func (m *anyBodyMatcher) finish() bool { return false }

func (m *anyBodyMatcher) evidence() string {
	return truncate(string(m.first), MaxMatchValueLength)
}

// prefixBodyMatcher buffers the start of the body up to the longest candidate, for Equals and StartsWith.
type prefixBodyMatcher struct {
	candidates []string
	alive      []bool
	exact      bool
	maxLen     int
	buf        []byte
	overflow   bool
	matched    string
}

func newPrefixBodyMatcher(candidates []string, exact bool) *prefixBodyMatcher {
	m := &prefixBodyMatcher{
		candidates: candidates,
		alive:      make([]bool, len(candidates)),
		exact:      exact,
		maxLen:     longest(candidates),
	}
	for i := range m.alive {
		m.alive[i] = true
	}
	return m
}

func (m *prefixBodyMatcher) feed(p []byte) (matched bool, done bool) {
	room := m.maxLen - len(m.buf)
	if len(p) > room {
		if m.exact {
			// The body is longer than every candidate.
			m.overflow = true
			return false, true
		}
		p = p[:room]
	}
	m.buf = append(m.buf, p...)

	remaining := 0
	for i, c := range m.candidates {
		if !m.alive[i] {
			continue
		}

		if m.exact && len(c) < len(m.buf) || !m.prefixCompatible(c) {
			m.alive[i] = false
			continue
		}

		if !m.exact && len(m.buf) >= len(c) {
			m.matched = c
			return true, true
		}
		remaining++
	}

	if remaining == 0 || (!m.exact && len(m.buf) >= m.maxLen) {
		return false, true
	}
	return false, false
}

// prefixCompatible reports whether the bytes seen so far and c agree on their common length.
func (m *prefixBodyMatcher) prefixCompatible(c string) bool {
	n := len(m.buf)
	if len(c) < n {
		n = len(c)
	}
	return string(m.buf[:n]) == c[:n]
}

func (m *prefixBodyMatcher) finish() bool {
	if m.overflow {
		return false
	}

	for i, c := range m.candidates {
		if !m.alive[i] {
			continue
		}
		if (m.exact && c == string(m.buf)) || (!m.exact && bytes.HasPrefix(m.buf, []byte(c))) {
			m.matched = c
			return true
		}
	}
	return false
}

func (m *prefixBodyMatcher) evidence() string { return m.matched }

// windowBodyMatcher keeps a sliding window over the end of the body, for Contains and EndsWith.
type windowBodyMatcher struct {
	candidates [][]byte
	suffix     bool
	size       int
	window     []byte
	matched    string
}

// newWindowBodyMatcher sizes the window to twice the longest candidate, three times when the body is URL decoded.
func newWindowBodyMatcher(candidates []string, suffix bool, urlDecoded bool) *windowBodyMatcher {
	factor := 2
	if urlDecoded {
		factor = 3
	}

	m := &windowBodyMatcher{suffix: suffix, size: factor * longest(candidates)}
	if m.size == 0 {
		m.size = 1
	}
	for _, c := range candidates {
		m.candidates = append(m.candidates, []byte(c))
	}
	return m
}

func (m *windowBodyMatcher) feed(p []byte) (matched bool, done bool) {
	data := append(m.window, p...)

	if !m.suffix {
		for _, c := range m.candidates {
			if bytes.Contains(data, c) {
				m.matched = string(c)
				return true, true
			}
		}
	}

	if len(data) > m.size {
		data = data[len(data)-m.size:]
	}
	m.window = append(m.window[:0], data...)
	return false, false
}

func (m *windowBodyMatcher) finish() bool {
	for _, c := range m.candidates {
		var ok bool
		if m.suffix {
			ok = bytes.HasSuffix(m.window, c)
		} else {
			ok = bytes.Contains(m.window, c)
		}
		if ok {
			m.matched = string(c)
			return true
		}
	}
	return false
}

func (m *windowBodyMatcher) evidence() string { return m.matched }

// regexBodyMatcher holds the whole transformed body, since a window could cut off context a pattern needs.
type regexBodyMatcher struct {
	logger   zerolog.Logger
	regexes  []*regexp2.Regexp
	body     bytes.Buffer
	matchStr string
}

func (m *regexBodyMatcher) feed(p []byte) (bool, bool) {
	m.body.Write(p)
	return false, false
}

func (m *regexBodyMatcher) finish() bool {
	ev, ok := matchRegexes(m.logger, m.regexes, m.body.String())
	m.matchStr = ev
	return ok
}

func (m *regexBodyMatcher) evidence() string { return m.matchStr }

// sizeBodyMatcher keeps a running length. Growing operators settle as soon as the threshold is crossed.
type sizeBodyMatcher struct {
	operator  waf.Operator
	threshold int64
	length    int64
}

func (m *sizeBodyMatcher) feed(p []byte) (matched bool, done bool) {
	m.length += int64(len(p))
	switch m.operator {
	case waf.GreaterThan:
		if m.length > m.threshold {
			return true, true
		}
	case waf.GreaterThanOrEqual:
		if m.length >= m.threshold {
			return true, true
		}
	case waf.LessThan:
		if m.length >= m.threshold {
			return false, true
		}
	case waf.LessThanOrEqual:
		if m.length > m.threshold {
			return false, true
		}
	}
	return false, false
}

func (m *sizeBodyMatcher) finish() bool {
	return compareSize(m.operator, m.length, m.threshold)
}

func (m *sizeBodyMatcher) evidence() string {
	return strconv.FormatInt(m.length, 10)
}

func compareSize(operator waf.Operator, length int64, threshold int64) bool {
	switch operator {
	case waf.LessThan:
		return length < threshold
	case waf.GreaterThan:
		return length > threshold
	case waf.LessThanOrEqual:
		return length <= threshold
	case waf.GreaterThanOrEqual:
		return length >= threshold
	}
	return false
}
