package firewall

import (
	"context"
	"errors"
	"net/http"
	"time"

	"proxywaf/customrule"
	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// ErrUnknownRoute is returned for requests on routes that have no published firewall.
var ErrUnknownRoute = errors.New("no firewall is configured for the route")

// RedirectStatusCode is the status of responses to requests that matched a Redirect rule in Prevention mode.
const RedirectStatusCode = http.StatusFound

// Decision is what the host should do with a request.
type Decision struct {
	Outcome     waf.Decision
	StatusCode  int
	RedirectURI string
	// Match is the rule that matched, if any.
	Match *customrule.RuleMatch
}

// ModelSource gives access to the published firewall models.
type ModelSource interface {
	Model(routeID string) (*RouteFirewallModel, bool)
}

// Server is the top level interface of the firewall towards the host.
type Server interface {
	EvalRequest(ctx context.Context, routeID string, req waf.HTTPRequest) (Decision, error)
}

type serverImpl struct {
	logger        zerolog.Logger
	models        ModelSource
	resultsLogger waf.ResultsLogger
}

// NewServer creates a server that evaluates requests against the models of models.
func NewServer(logger zerolog.Logger, models ModelSource, rl waf.ResultsLogger) Server {
	return &serverImpl{
		logger:        logger,
		models:        models,
		resultsLogger: rl,
	}
}

func (s *serverImpl) EvalRequest(ctx context.Context, routeID string, req waf.HTTPRequest) (decision Decision, err error) {
	// Create a sub-logger with a transaction ID
	logger := s.logger.With().Str("txid", req.TransactionID()).Logger()

	decision.Outcome = waf.Pass
	if e := logger.Debug(); e.Enabled() {
		e.Str("uri", req.URI()).Str("routeId", routeID).Msg("WAF got request")
		startTime := time.Now()
		defer func() {
			logger.Debug().Dur("timeTaken", time.Since(startTime)).Str("uri", req.URI()).Str("decision", decision.Outcome.String()).Msg("WAF completed request")
		}()
	}

	model, ok := s.models.Model(routeID)
	if !ok {
		err = ErrUnknownRoute
		return
	}

	match, matched := model.Evaluator.EvaluateRequest(ctx, logger, req)
	if !matched {
		return
	}
	decision.Match = &match

	if match.Action == waf.Allow {
		return
	}

	s.resultsLogger.RuleTriggered(waf.AuditRecord{
		RouteID:       model.Evaluator.RouteID,
		Mode:          model.Evaluator.Mode,
		RuleName:      match.RuleName,
		Action:        match.Action,
		Matches:       match.Matches,
		TransactionID: req.TransactionID(),
		URI:           req.URI(),
	})

	if model.Evaluator.Mode != waf.Prevention {
		return
	}

	switch match.Action {
	case waf.Block:
		decision.Outcome = waf.Deny
		decision.StatusCode = model.Evaluator.BlockedStatusCode
	case waf.Redirect:
		decision.Outcome = waf.RedirectTo
		decision.StatusCode = RedirectStatusCode
		decision.RedirectURI = model.Evaluator.RedirectURI
	}

	return
}
