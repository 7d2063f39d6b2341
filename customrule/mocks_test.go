package customrule

import (
	"context"
	"io"
	"net/netip"
	"testing"

	"proxywaf/bodyparsing"
	"proxywaf/testutils"
	"proxywaf/waf"
)

type mockWafHTTPRequest struct {
	method     string
	uri        string
	remoteAddr string
	headers    []waf.HeaderPair
	bodyChunks []string
	bodies     []*testutils.ChunkedReader
}

func (r *mockWafHTTPRequest) Method() string {
	if r.method == "" {
		return "GET"
	}
	return r.method
}
func (r *mockWafHTTPRequest) URI() string {
	if r.uri == "" {
		return "/"
	}
	return r.uri
}
func (r *mockWafHTTPRequest) RemoteAddr() string {
	if r.remoteAddr == "" {
		return "10.0.0.1:50000"
	}
	return r.remoteAddr
}
func (r *mockWafHTTPRequest) Headers() []waf.HeaderPair { return r.headers }
func (r *mockWafHTTPRequest) TransactionID() string     { return "txid1" }
func (r *mockWafHTTPRequest) OpenBody() (io.ReadCloser, error) {
	b := &testutils.ChunkedReader{Chunks: r.bodyChunks}
	r.bodies = append(r.bodies, b)
	return b, nil
}

// allBodiesClosedOnce reports whether every opened body was closed exactly once.
func (r *mockWafHTTPRequest) allBodiesClosedOnce() bool {
	for _, b := range r.bodies {
		if b.Closed != 1 {
			return false
		}
	}
	return true
}

type mockHeaderPair struct {
	k string
	v string
}

func (h *mockHeaderPair) Key() string   { return h.k }
func (h *mockHeaderPair) Value() string { return h.v }

type mockCountryResolver struct {
	countries map[string]waf.Country
	err       error
	readyErr  error
	lookups   int
}

func (m *mockCountryResolver) ResolveCountry(addr netip.Addr) (country waf.Country, found bool, err error) {
	m.lookups++
	if m.err != nil {
		err = m.err
		return
	}
	country, found = m.countries[addr.String()]
	return
}

func (m *mockCountryResolver) Ready() error { return m.readyErr }

// countingCondition returns a fixed result and counts how often it was evaluated.
type countingCondition struct {
	result bool
	calls  int
	err    error
	panics bool
	onCall func()
}

func (c *countingCondition) Evaluate(ctx context.Context, ec *EvaluationContext) (bool, error) {
	c.calls++
	if c.onCall != nil {
		c.onCall()
	}
	if c.panics {
		panic("boom")
	}
	if c.result {
		ec.AddMatch(waf.RequestMethod, waf.Equals, "counted")
	}
	return c.result, c.err
}

var testFormParser = bodyparsing.NewFormParser(waf.DefaultLengthLimits)

func newTestContext(t *testing.T, req waf.HTTPRequest) *EvaluationContext {
	return NewEvaluationContext(testutils.NewTestLogger(t), req, testFormParser, "X-Forwarded-For")
}

// replayBodyRequest serves its body from a length-limited ReplayableBody, as the HTTP adapter does.
type replayBodyRequest struct {
	*mockWafHTTPRequest
	body *bodyparsing.ReplayableBody
}

func (r *replayBodyRequest) OpenBody() (io.ReadCloser, error) {
	return r.body.NewReader(), nil
}
