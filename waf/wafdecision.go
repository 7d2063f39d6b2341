package waf

// Decision denotes WAF's response to a request
type Decision int

const (
	_ Decision = iota
	// Pass means that the request should be forwarded untouched
	Pass
	// Deny means that the request should be answered with the blocked status code
	Deny
	// RedirectTo means that the request should be answered with a redirect
	RedirectTo
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "Pass"
	case Deny:
		return "Deny"
	case RedirectTo:
		return "Redirect"
	}
	return "Unknown"
}
