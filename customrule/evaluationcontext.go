package customrule

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"proxywaf/bodyparsing"
	"proxywaf/encoding"
	"proxywaf/ipaddresses"
	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// MaxMatchValueLength is the number of characters of a matched value kept as evidence.
const MaxMatchValueLength = 100

// EvaluationContext carries one request through the evaluation of a route's rules, and collects evidence of what matched.
// Request parts are parsed the first time a condition asks for them. It must not be shared between goroutines.
type EvaluationContext struct {
	Logger  zerolog.Logger
	Request waf.HTTPRequest
	Matches []waf.MatchValue

	formParser      waf.FormParser
	forwardedHeader string

	uriParsed bool
	path      string
	rawQuery  string
	query     url.Values

	headers map[string][]string
	cookies map[string][]string

	formParsed bool
	form       map[string][]string

	filesChecked bool
	hasFiles     bool
}

// NewEvaluationContext creates the context for evaluating req. forwardedHeader names the header whose first entry overrides
// the socket address for RemoteAddress, and may be empty.
func NewEvaluationContext(logger zerolog.Logger, req waf.HTTPRequest, formParser waf.FormParser, forwardedHeader string) *EvaluationContext {
	return &EvaluationContext{
		Logger:          logger,
		Request:         req,
		formParser:      formParser,
		forwardedHeader: forwardedHeader,
	}
}

// AddMatch records evidence of a raw match. Values longer than MaxMatchValueLength characters are truncated.
func (c *EvaluationContext) AddMatch(variable waf.MatchVariable, operator waf.Operator, value string) {
	c.Matches = append(c.Matches, waf.MatchValue{Variable: variable, Operator: operator, Value: truncate(value, MaxMatchValueLength)})
}

func truncate(s string, maxRunes int) string {
	if len(s) <= maxRunes {
		return s
	}

	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// Values returns every value the variable has under the selector. Absent values yield an empty slice.
// RequestBody and the address variables have their own accessors.
func (c *EvaluationContext) Values(ctx context.Context, variable waf.MatchVariable, selector string) (values []string, err error) {
	switch variable {
	case waf.RequestMethod:
		values = []string{c.Request.Method()}
	case waf.RequestURI:
		values = []string{c.Request.URI()}
	case waf.RequestPath:
		c.parseURI()
		values = []string{c.path}
	case waf.QueryString:
		c.parseURI()
		values = []string{c.rawQuery}
	case waf.QueryParam:
		c.parseURI()
		values = c.query[selector]
	case waf.RequestHeader:
		values = c.Header(selector)
	case waf.RequestCookie:
		c.parseCookies()
		values = c.cookies[selector]
	case waf.PostArgs:
		err = c.parseForm(ctx)
		values = c.form[selector]
	default:
		err = errors.New("variable " + string(variable) + " has no plain values")
	}
	return
}

// Header returns all values of the named header. Header names are case-insensitive.
func (c *EvaluationContext) Header(name string) []string {
	if c.headers == nil {
		c.headers = make(map[string][]string)
		for _, h := range c.Request.Headers() {
			k := strings.ToLower(h.Key())
			c.headers[k] = append(c.headers[k], h.Value())
		}
	}
	return c.headers[strings.ToLower(name)]
}

func (c *EvaluationContext) contentType() string {
	if v := c.Header("Content-Type"); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c *EvaluationContext) parseURI() {
	if c.uriParsed {
		return
	}
	c.uriParsed = true

	uri := c.Request.URI()
	if i := strings.IndexByte(uri, '#'); i >= 0 {
		uri = uri[:i]
	}

	c.path = uri
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		c.path = uri[:i]
		c.rawQuery = uri[i+1:]
	}

	if !encoding.IsValidURLEncoding(c.rawQuery) {
		c.Logger.Debug().Str("queryString", truncate(c.rawQuery, MaxMatchValueLength)).Msg("Query string has malformed percent escapes")
	}

	// Malformed pairs are dropped, well formed ones are still usable.
	c.query, _ = url.ParseQuery(c.rawQuery)
}

func (c *EvaluationContext) parseCookies() {
	if c.cookies != nil {
		return
	}

	// Let net/http do the cookie parsing.
	r := &http.Request{Header: http.Header{"Cookie": c.Header("Cookie")}}
	c.cookies = make(map[string][]string)
	for _, cookie := range r.Cookies() {
		c.cookies[cookie.Name] = append(c.cookies[cookie.Name], cookie.Value)
	}
}

func (c *EvaluationContext) parseForm(ctx context.Context) (err error) {
	if c.formParsed {
		return
	}
	c.formParsed = true
	c.form = make(map[string][]string)

	contentType := c.contentType()
	if c.formParser == nil || !bodyparsing.IsForm(contentType) {
		return
	}

	if err = ctx.Err(); err != nil {
		return
	}

	body, err := c.Request.OpenBody()
	if err != nil {
		return
	}
	defer body.Close()

	parseErr := c.formParser.Parse(c.Logger, contentType, body, func(_ waf.ContentType, name string, data string) error {
		c.form[name] = append(c.form[name], data)
		return ctx.Err()
	})
	if parseErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			return
		}

		// Fields parsed before the problem are still evaluated.
		c.Logger.Warn().Err(parseErr).Msg("Form body could not be parsed completely")
	}

	return
}

// BodyHasFiles reports whether the body is a multipart form that carries file attachments.
func (c *EvaluationContext) BodyHasFiles(ctx context.Context) (hasFiles bool, err error) {
	if c.filesChecked {
		hasFiles = c.hasFiles
		return
	}

	contentType := c.contentType()
	if c.formParser == nil || !bodyparsing.IsMultipart(contentType) {
		c.filesChecked = true
		return
	}

	if err = ctx.Err(); err != nil {
		return
	}

	body, err := c.Request.OpenBody()
	if err != nil {
		return
	}
	defer body.Close()

	c.filesChecked = true
	c.hasFiles, err = c.formParser.HasFileAttachments(contentType, body)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("Could not determine whether the multipart body carries files")
		err = nil
	}
	hasFiles = c.hasFiles
	return
}

// OpenBody returns a reader positioned at the start of the request body. The caller must close it.
func (c *EvaluationContext) OpenBody() (io.ReadCloser, error) {
	return c.Request.OpenBody()
}

// Address returns the client address for RemoteAddress, honoring the forwarded-for header, or the peer address for SocketAddress.
func (c *EvaluationContext) Address(variable waf.MatchVariable) (addr netip.Addr, err error) {
	if variable == waf.RemoteAddress && c.forwardedHeader != "" {
		return ipaddresses.ClientAddress(c.Request.RemoteAddr(), strings.Join(c.Header(c.forwardedHeader), ","))
	}

	return ipaddresses.ParseAddress(c.Request.RemoteAddr())
}
