package encoding

import (
	"net/url"
	"strings"
)

// IsValidURLEncoding checks whether the given string contains all valid URL-encoded escapes.
func IsValidURLEncoding(content string) bool {
	type validateURLEncodingState int
	const (
		_ validateURLEncodingState = iota
		notInEscape
		char1InEscape // This means we've have so far seen something like %
		char2InEscape // This means we've have so far seen something like %2
	)
	state := notInEscape

	for i := 0; i < len(content); i++ {
		c := content[i]
		switch state {
		case notInEscape:
			if c == '%' {
				state = char1InEscape
			}
		case char1InEscape:
			if isHexChar(c) {
				state = char2InEscape
			} else {
				return false
			}
		case char2InEscape:
			if isHexChar(c) {
				state = notInEscape
			} else {
				return false
			}
		}
	}

	return state == notInEscape
}

// WeakURLUnescape attempts to URL-unescape, but if there are any values that could not be URL-unescaped, they will be left as is. A '+' becomes a space.
func WeakURLUnescape(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	return weakUnescape(s, true)
}

// WeakPercentUnescape is like WeakURLUnescape but only decodes percent-triples, leaving '+' alone.
func WeakPercentUnescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	return weakUnescape(s, false)
}

// RepeatedURLUnescape percent-decodes s until no decodable percent-triple remains, so that "%2520" becomes " ".
func RepeatedURLUnescape(s string) string {
	for HasPercentTriple(s) {
		next := WeakPercentUnescape(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// HasPercentTriple reports whether s contains at least one decodable %XX sequence.
func HasPercentTriple(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == '%' && isHexChar(s[i+1]) && isHexChar(s[i+2]) {
			return true
		}
	}
	return false
}

// maxPartialEscapeChain bounds how much TrailingPartialEscape will ask a caller to keep back.
const maxPartialEscapeChain = 64

// TrailingPartialEscape returns how many bytes at the end of b could still turn into an escape once more bytes follow.
// That is a run of "%" and "%X" fragments, since decoding a completed fragment may yield a hex digit for the one before it.
func TrailingPartialEscape(b []byte) (n int) {
	for n < maxPartialEscapeChain {
		end := len(b) - n
		if end >= 1 && b[end-1] == '%' {
			n++
		} else if end >= 2 && b[end-2] == '%' && isHexChar(b[end-1]) {
			n += 2
		} else {
			break
		}
	}
	return
}

// URLEscape encodes s so it can be safely placed inside a URL query.
func URLEscape(s string) string {
	return url.QueryEscape(s)
}

func weakUnescape(s string, plusAsSpace bool) string {
	var buf strings.Builder
	buf.Grow(len(s)) // The unescaped version should be smaller than the escaped, so this pessimistic initial size avoids reallocations.

	// States for the state machine below
	type urlUnescapeState int
	const (
		_ urlUnescapeState = iota
		notInEscape
		char1InEscape // This means we've have so far seen something like %
		char2InEscape // This means we've have so far seen something like %2
	)
	state := notInEscape

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case notInEscape:
			if c == '%' {
				state = char1InEscape
			} else if c == '+' && plusAsSpace {
				buf.WriteByte(' ')
			} else {
				buf.WriteByte(c)
			}
		case char1InEscape:
			if isHexChar(c) {
				state = char2InEscape
			} else if c == '%' {
				// This was not valid URL encoding, but the new % may start a valid one.
				buf.WriteByte(s[i-1])
			} else {
				// This was not valid URL encoding, so we will just leave the bytes as is.
				buf.WriteByte(s[i-1])
				buf.WriteByte(c)
				state = notInEscape
			}
		case char2InEscape:
			if isHexChar(c) {
				buf.WriteByte(unhex(s[i-1])<<4 | unhex(c))
				state = notInEscape
			} else if c == '%' {
				buf.WriteByte(s[i-2])
				buf.WriteByte(s[i-1])
				state = char1InEscape
			} else {
				// This was not valid URL encoding, so we will just leave the bytes as is.
				buf.WriteByte(s[i-2])
				buf.WriteByte(s[i-1])
				buf.WriteByte(c)
				state = notInEscape
			}
		}
	}

	// Did the string end with an unfinished escape sequence?
	if state == char1InEscape {
		buf.WriteByte(s[len(s)-1])
	} else if state == char2InEscape {
		buf.WriteByte(s[len(s)-2])
		buf.WriteByte(s[len(s)-1])
	}

	return buf.String()
}

func isHexChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Copied from Go's standard library net/url/url.go.
func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
