package customrule

import (
	"testing"

	"proxywaf/waf"

	"github.com/stretchr/testify/assert"
)

func TestApplyTransforms(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		transforms []waf.Transform
		want       string
	}{
		{"none", " Abc ", nil, " Abc "},
		{"upper", "abc", []waf.Transform{waf.Uppercase}, "ABC"},
		{"lower", "ÅBC", []waf.Transform{waf.Lowercase}, "åbc"},
		{"trim", " \tabc \n", []waf.Transform{waf.Trim}, "abc"},
		{"urlencode", "a b&c", []waf.Transform{waf.URLEncode}, "a+b%26c"},
		{"urldecode fixed point", "%2520", []waf.Transform{waf.URLDecode}, " "},
		{"urldecode keeps plus", "a+b", []waf.Transform{waf.URLDecode}, "a+b"},
		{"left to right", "%20ABC%20", []waf.Transform{waf.URLDecode, waf.Trim, waf.Lowercase}, "abc"},
		{"order matters", "%41", []waf.Transform{waf.Lowercase, waf.URLDecode}, "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, applyTransforms(tt.in, tt.transforms))
		})
	}
}

func TestSizeTransformsDropCase(t *testing.T) {
	assert.Equal(t,
		[]waf.Transform{waf.Trim, waf.URLDecode},
		sizeTransforms([]waf.Transform{waf.Uppercase, waf.Trim, waf.Lowercase, waf.URLDecode}))
}

// runPipeline splits in at the given offsets and pushes the pieces through a fresh pipeline.
func runPipeline(in string, transforms []waf.Transform, splits ...int) string {
	p := newTransformPipeline(transforms)
	var out []byte
	prev := 0
	for _, s := range append(splits, len(in)) {
		out = append(out, p.push([]byte(in[prev:s]))...)
		prev = s
	}
	return string(append(out, p.flush()...))
}

func TestTransformPipelineMatchesWholeValue(t *testing.T) {
	inputs := []string{
		"%2520hello%20World%2",
		"  lead and trail  ",
		"%2%35x",
		"%%341",
		"Ünïcödé ÅÄÖ",
		"a+b&c=d e",
		"   ",
		"",
	}
	pipelines := [][]waf.Transform{
		{waf.URLDecode},
		{waf.Trim},
		{waf.Uppercase},
		{waf.Lowercase, waf.Trim},
		{waf.URLEncode},
		{waf.URLDecode, waf.Trim, waf.Uppercase},
		{waf.Trim, waf.URLEncode, waf.URLDecode},
	}

	for _, in := range inputs {
		for _, transforms := range pipelines {
			want := applyTransforms(in, transforms)

			// Every single split point, and splitting after every byte.
			for s := 0; s <= len(in); s++ {
				assert.Equal(t, want, runPipeline(in, transforms, s), "input %q transforms %v split %v", in, transforms, s)
			}

			var everyByte []int
			for s := 1; s < len(in); s++ {
				everyByte = append(everyByte, s)
			}
			assert.Equal(t, want, runPipeline(in, transforms, everyByte...), "input %q transforms %v split after every byte", in, transforms)
		}
	}
}

func TestSplitIncompleteRune(t *testing.T) {
	assert := assert.New(t)

	b := []byte("aé")
	complete, rest := splitIncompleteRune(b[:2])
	assert.Equal("a", string(complete))
	assert.Equal([]byte{0xc3}, rest)

	complete, rest = splitIncompleteRune(b)
	assert.Equal("aé", string(complete))
	assert.Empty(rest)

	complete, rest = splitIncompleteRune([]byte{0xff})
	assert.Equal([]byte{0xff}, complete)
	assert.Empty(rest)
}
