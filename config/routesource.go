package config

import (
	"proxywaf/waf"
)

// MultiRouteSource concatenates the route tables of several sources.
type MultiRouteSource []waf.RouteSource

// Routes implements waf.RouteSource. The token fires when any source's token fires. If one source cannot push,
// the whole table has to be polled.
func (m MultiRouteSource) Routes() (routes []waf.Route, token waf.ChangeToken) {
	tokens := make([]waf.ChangeToken, 0, len(m))
	for _, source := range m {
		r, t := source.Routes()
		routes = append(routes, r...)
		tokens = append(tokens, t)
	}

	token = AnyToken(tokens...)
	return
}

// AnyToken returns a token that fires when the first of tokens fires. It is a polling token if any of tokens is one.
func AnyToken(tokens ...waf.ChangeToken) waf.ChangeToken {
	if len(tokens) == 1 {
		return tokens[0]
	}

	for _, t := range tokens {
		if !SupportsPush(t) {
			return PollingToken
		}
	}

	merged := NewChannelToken()
	for _, t := range tokens {
		go func(ch <-chan struct{}) {
			select {
			case <-ch:
				merged.Signal()
			case <-merged.Changed():
			}
		}(t.Changed())
	}
	return merged
}
