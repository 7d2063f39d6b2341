package customrule

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"proxywaf/encoding"
	"proxywaf/waf"
)

func applyTransforms(value string, transforms []waf.Transform) string {
	for _, t := range transforms {
		switch t {
		case waf.Uppercase:
			value = strings.ToUpper(value)
		case waf.Lowercase:
			value = strings.ToLower(value)
		case waf.Trim:
			value = strings.TrimSpace(value)
		case waf.URLEncode:
			value = encoding.URLEscape(value)
		case waf.URLDecode:
			value = encoding.RepeatedURLUnescape(value)
		}
	}
	return value
}

// sizeTransforms drops the transforms that cannot change the length of a value.
func sizeTransforms(transforms []waf.Transform) (kept []waf.Transform) {
	for _, t := range transforms {
		if !t.IsCaseTransform() {
			kept = append(kept, t)
		}
	}
	return
}

func hasTransform(transforms []waf.Transform, t waf.Transform) bool {
	for _, x := range transforms {
		if x == t {
			return true
		}
	}
	return false
}

func isKnownTransform(t waf.Transform) bool {
	switch t {
	case waf.Uppercase, waf.Lowercase, waf.Trim, waf.URLEncode, waf.URLDecode:
		return true
	}
	return false
}

// transformStage is one transform applied to a stream. It may keep back input it cannot transform yet.
type transformStage interface {
	push(in []byte) []byte
	flush() []byte
}

// transformPipeline applies transforms to a body chunk by chunk, with the same result as applyTransforms on the whole body.
type transformPipeline struct {
	stages []transformStage
}

func newTransformPipeline(transforms []waf.Transform) *transformPipeline {
	p := &transformPipeline{}
	for _, t := range transforms {
		switch t {
		case waf.Uppercase:
			p.stages = append(p.stages, &caseStage{mapping: unicode.ToUpper})
		case waf.Lowercase:
			p.stages = append(p.stages, &caseStage{mapping: unicode.ToLower})
		case waf.Trim:
			p.stages = append(p.stages, &trimStage{})
		case waf.URLEncode:
			p.stages = append(p.stages, urlEncodeStage{})
		case waf.URLDecode:
			p.stages = append(p.stages, &urlDecodeStage{})
		}
	}
	return p
}

func (p *transformPipeline) push(in []byte) []byte {
	for _, s := range p.stages {
		in = s.push(in)
	}
	return in
}

// flush drains every stage in order. Output of a stage is pushed through the following ones before they are flushed.
func (p *transformPipeline) flush() (out []byte) {
	for _, s := range p.stages {
		out = append(s.push(out), s.flush()...)
	}
	return
}

// splitIncompleteRune splits off a trailing UTF-8 sequence that is cut short, so it can be completed by the next chunk.
func splitIncompleteRune(b []byte) (complete []byte, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax+1; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}

type caseStage struct {
	mapping func(rune) rune
	carry   []byte
}

func (s *caseStage) push(in []byte) []byte {
	data := append(s.carry, in...)
	complete, rest := splitIncompleteRune(data)
	s.carry = append([]byte(nil), rest...)
	return bytes.Map(s.mapping, complete)
}

func (s *caseStage) flush() []byte {
	out := bytes.Map(s.mapping, s.carry)
	s.carry = nil
	return out
}

// trimStage drops leading whitespace, and keeps back trailing whitespace until more content shows it was not trailing.
type trimStage struct {
	started bool
	pending []byte
	carry   []byte
}

func (s *trimStage) push(in []byte) []byte {
	data := append(s.carry, in...)
	complete, rest := splitIncompleteRune(data)
	s.carry = append([]byte(nil), rest...)

	if !s.started {
		complete = bytes.TrimLeftFunc(complete, unicode.IsSpace)
		if len(complete) == 0 {
			return nil
		}
		s.started = true
	}

	content := bytes.TrimRightFunc(complete, unicode.IsSpace)
	if len(content) == 0 {
		s.pending = append(s.pending, complete...)
		return nil
	}

	out := append(s.pending, content...)
	s.pending = append([]byte(nil), complete[len(content):]...)
	return out
}

func (s *trimStage) flush() []byte {
	// An incomplete sequence is not whitespace, so it ends the content.
	if len(s.carry) == 0 {
		return nil
	}

	out := append(s.pending, s.carry...)
	if !s.started {
		out = s.carry
	}
	s.pending, s.carry = nil, nil
	return out
}

type urlEncodeStage struct{}

func (urlEncodeStage) push(in []byte) []byte {
	return []byte(encoding.URLEscape(string(in)))
}

func (urlEncodeStage) flush() []byte {
	return nil
}

// urlDecodeStage keeps back trailing "%" and "%X" fragments of its decoded output, since the next chunk may complete them.
type urlDecodeStage struct {
	carry []byte
}

func (s *urlDecodeStage) push(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}

	out := []byte(encoding.RepeatedURLUnescape(string(s.carry) + string(in)))
	k := encoding.TrailingPartialEscape(out)
	s.carry = append([]byte(nil), out[len(out)-k:]...)
	return out[:len(out)-k]
}

func (s *urlDecodeStage) flush() []byte {
	out := s.carry
	s.carry = nil
	return out
}
