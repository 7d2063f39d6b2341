package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"

	"proxywaf/firewall"
	"proxywaf/nethttp"
	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// proxyRouter forwards requests to the upstream of the route whose path prefix matches, behind that route's
// firewall. The route table is swapped as a whole when it changes.
type proxyRouter struct {
	logger zerolog.Logger
	server firewall.Server
	limits waf.LengthLimits
	mux    atomic.Pointer[http.ServeMux]
}

func newProxyRouter(logger zerolog.Logger, server firewall.Server, limits waf.LengthLimits) *proxyRouter {
	r := &proxyRouter{logger: logger, server: server, limits: limits}
	r.mux.Store(http.NewServeMux())
	return r
}

func (r *proxyRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.Load().ServeHTTP(w, req)
}

// update replaces the route table. Routes with an unusable upstream, or a path or id that was already taken, are skipped.
func (r *proxyRouter) update(routes []waf.Route) {
	mux := http.NewServeMux()
	seen := make(map[string]bool, len(routes))
	seenIDs := make(map[string]bool, len(routes))
	for _, route := range routes {
		logger := r.logger.With().Str("routeId", route.ID).Str("path", route.Path).Logger()
		if seenIDs[route.ID] {
			logger.Error().Msg("Route skipped, its id is already used by another route")
			continue
		}

		upstream, err := url.Parse(route.Upstream)
		if err != nil || upstream.Scheme == "" || upstream.Host == "" {
			logger.Error().Err(err).Str("upstream", route.Upstream).Msg("Route skipped, upstream is not an absolute URL")
			continue
		}

		path := route.Path
		if path == "" {
			path = "/"
		}
		if seen[path] {
			logger.Error().Msg("Route skipped, another route already serves this path")
			continue
		}
		seen[path] = true
		seenIDs[route.ID] = true

		proxy := httputil.NewSingleHostReverseProxy(upstream)
		proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
			logger.Warn().Err(err).Str("txid", req.Header.Get(nethttp.RequestIDHeader)).Msg("Upstream request failed")
			w.WriteHeader(http.StatusBadGateway)
		}

		mux.Handle(path, nethttp.Middleware(r.logger, r.server, route.ID, r.limits, proxy))
	}

	r.mux.Store(mux)
	r.logger.Info().Int("routes", len(seen)).Msg("Route table updated")
}
