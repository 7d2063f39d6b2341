package nethttp

import (
	"io"
	"net/http"
	"sort"

	"proxywaf/bodyparsing"
	"proxywaf/waf"

	"github.com/google/uuid"
)

// RequestIDHeader carries the transaction id. A missing id is generated.
const RequestIDHeader = "X-Request-Id"

// Request adapts a net/http request to waf.HTTPRequest. The body can be read any number of times, by the firewall
// and afterwards by the upstream.
type Request struct {
	r    *http.Request
	body *bodyparsing.ReplayableBody
	txid string
}

// NewRequest takes ownership of r.Body. Close must be called once the request was served.
// At most maxBodyLength bytes of the body are kept, 0 keeps all of it.
func NewRequest(r *http.Request, maxBodyLength int) *Request {
	txid := r.Header.Get(RequestIDHeader)
	if txid == "" {
		txid = uuid.NewString()
	}

	var src io.ReadCloser
	if r.Body != nil && r.Body != http.NoBody {
		src = r.Body
	}

	return &Request{r: r, body: bodyparsing.NewReplayableBody(src, maxBodyLength), txid: txid}
}

func (r *Request) Method() string { return r.r.Method }

// URI is the path and query of the request, also for requests that were sent in absolute form.
func (r *Request) URI() string {
	return r.r.URL.RequestURI()
}

func (r *Request) RemoteAddr() string { return r.r.RemoteAddr }

// Headers returns every header line. net/http keeps Host apart from the other headers, it is added back first.
func (r *Request) Headers() []waf.HeaderPair {
	keys := make([]string, 0, len(r.r.Header))
	for k := range r.r.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hh := make([]waf.HeaderPair, 0, len(keys)+1)
	if r.r.Host != "" {
		hh = append(hh, &headerPair{k: "Host", v: r.r.Host})
	}
	for _, k := range keys {
		for _, v := range r.r.Header[k] {
			hh = append(hh, &headerPair{k: k, v: v})
		}
	}
	return hh
}

func (r *Request) OpenBody() (io.ReadCloser, error) {
	return r.body.NewReader(), nil
}

// BodyTooLarge reads the rest of the body and reports whether it is longer than the limit.
func (r *Request) BodyTooLarge() bool {
	if r.body.Exceeded() {
		return true
	}
	body := r.body.NewReader()
	defer body.Close()
	_, err := io.Copy(io.Discard, body)
	return waf.IsLengthLimitError(err)
}

func (r *Request) TransactionID() string { return r.txid }

// Close releases the original body.
func (r *Request) Close() error {
	return r.body.Close()
}

type headerPair struct {
	k string
	v string
}

func (h *headerPair) Key() string   { return h.k }
func (h *headerPair) Value() string { return h.v }
