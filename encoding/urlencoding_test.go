package encoding

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeakURLUnescape(t *testing.T) {
	// Arrange
	type testcase struct {
		inputVal string
		expected string
	}
	tests := []testcase{
		{`hello%20world`, `hello world`},
		{`hello%ggworld`, `hello%ggworld`},
		{`hello%20`, `hello `},
		{`hello%2`, `hello%2`},
		{`hello%`, `hello%`},
		{`%20`, ` `},
		{`%2`, `%2`},
		{`%`, `%`},
		{``, ``},
		{`%00`, "\x00"},
		{`x%6ax`, `xjx`},
		{`x%6Ax`, `xjx`},
	}

	// Act and assert
	var b strings.Builder
	for i, test := range tests {
		// Act
		s := WeakURLUnescape(test.inputVal)

		// Assert
		if s != test.expected {
			fmt.Fprintf(&b, "Test %v, input %v. Expected: %v. Actual: %v\n", i+1, test.inputVal, test.expected, s)
		}
	}

	if b.Len() > 0 {
		t.Fatalf("\n%s", b.String())
	}
}

func TestIsValidURLEncoding(t *testing.T) {
	// Arrange
	type testcase struct {
		inputVal string
		expected bool
	}
	tests := []testcase{
		{`hello%20world`, true},
		{`hello%ggworld`, false},
		{`hello%20`, true},
		{`hello%2`, false},
		{`hello%`, false},
		{`%20`, true},
		{`%2`, false},
		{`%`, false},
		{``, true},
		{`%00`, true},
		{`x%6ax`, true},
		{`x%6Ax`, true},
	}

	// Act and assert
	var b strings.Builder
	for i, test := range tests {
		// Act
		s := IsValidURLEncoding(test.inputVal)

		// Assert
		if s != test.expected {
			fmt.Fprintf(&b, "Test %v, input %v. Expected: %v. Actual: %v\n", i+1, test.inputVal, test.expected, s)
		}
	}

	if b.Len() > 0 {
		t.Fatalf("\n%s", b.String())
	}
}

func TestWeakPercentUnescapeKeepsPlus(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("a+b c", WeakPercentUnescape("a+b%20c"))
	assert.Equal("a b c", WeakURLUnescape("a+b%20c"))
	assert.Equal("%% ", WeakPercentUnescape("%%%20"))
	assert.Equal("%2 ", WeakPercentUnescape("%2%20"))
}

func TestRepeatedURLUnescape(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"%2520", " "},
		{"%252520", " "},
		{"%20", " "},
		{"plain", "plain"},
		{"%zz", "%zz"},
		{"%25", "%"},
		{"%2541", "A"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, RepeatedURLUnescape(tt.in))
		})
	}
}

func TestHasPercentTriple(t *testing.T) {
	assert := assert.New(t)
	assert.True(HasPercentTriple("a%20"))
	assert.False(HasPercentTriple("a%2"))
	assert.False(HasPercentTriple("a%zz"))
	assert.False(HasPercentTriple(""))
}

func TestTrailingPartialEscape(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(1, TrailingPartialEscape([]byte("abc%")))
	assert.Equal(2, TrailingPartialEscape([]byte("abc%2")))
	assert.Equal(0, TrailingPartialEscape([]byte("abc%20")))
	assert.Equal(0, TrailingPartialEscape([]byte("abc%g")))
	assert.Equal(0, TrailingPartialEscape([]byte("")))
	assert.Equal(3, TrailingPartialEscape([]byte("abc%2%")))
	assert.Equal(2, TrailingPartialEscape([]byte("%%")))
	assert.Equal(64, TrailingPartialEscape([]byte(strings.Repeat("%", 100))))
}

func TestURLEscape(t *testing.T) {
	assert.Equal(t, "a+b%26c", URLEscape("a b&c"))
}
