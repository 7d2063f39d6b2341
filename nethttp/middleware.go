package nethttp

import (
	"errors"
	"net/http"

	"proxywaf/firewall"
	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// Middleware evaluates every request against the firewall of routeID before handing it to next.
// Requests are let through when the firewall cannot decide. Bodies longer than limits.MaxLengthTotal are refused
// with 413, they could neither be inspected nor forwarded whole.
func Middleware(logger zerolog.Logger, server firewall.Server, routeID string, limits waf.LengthLimits, next http.Handler) http.Handler {
	maxBody := limits.MaxLengthTotal
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if maxBody > 0 && r.ContentLength > int64(maxBody) {
			tooLarge(logger, w, r, routeID)
			return
		}

		req := NewRequest(r, maxBody)
		defer req.Close()

		d, err := server.EvalRequest(r.Context(), routeID, req)
		if err != nil && !errors.Is(err, firewall.ErrUnknownRoute) {
			logger.Error().Err(err).Str("txid", req.TransactionID()).Str("routeId", routeID).Msg("Firewall evaluation failed, letting the request through")
		}

		switch d.Outcome {
		case waf.Deny:
			w.Header().Set(RequestIDHeader, req.TransactionID())
			http.Error(w, http.StatusText(d.StatusCode), d.StatusCode)
			return
		case waf.RedirectTo:
			http.Redirect(w, r, d.RedirectURI, d.StatusCode)
			return
		}

		if maxBody > 0 && req.BodyTooLarge() {
			tooLarge(logger, w, r, routeID)
			return
		}

		r.Header.Set(RequestIDHeader, req.TransactionID())
		body, _ := req.OpenBody()
		r.Body = body
		next.ServeHTTP(w, r)
	})
}

func tooLarge(logger zerolog.Logger, w http.ResponseWriter, r *http.Request, routeID string) {
	logger.Warn().Str("routeId", routeID).Str("uri", r.URL.RequestURI()).Int64("contentLength", r.ContentLength).Msg("Request body over the length limit")
	http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
}
