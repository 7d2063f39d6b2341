package waf

import (
	"io"
)

// HeaderPair represents a header line in an HTTP request.
type HeaderPair interface {
	Key() string
	Value() string
}

// HTTPRequest represents an HTTP request to be evaluated by the WAF.
type HTTPRequest interface {
	Method() string
	URI() string
	RemoteAddr() string
	Headers() []HeaderPair
	// OpenBody returns a reader positioned at the start of the request body. The caller must close it.
	OpenBody() (io.ReadCloser, error)
	TransactionID() string
}
