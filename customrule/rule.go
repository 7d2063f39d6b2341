package customrule

import (
	"context"
	"fmt"
	"sort"

	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// RuleEvaluator is the compiled form of a RuleConfig: conditions joined by AND.
type RuleEvaluator struct {
	Name       string
	Priority   int
	Action     waf.Action
	conditions []ConditionEvaluator
}

// NewRuleEvaluator creates a RuleEvaluator that evaluates the conditions in the given order.
func NewRuleEvaluator(name string, priority int, action waf.Action, conditions []ConditionEvaluator) *RuleEvaluator {
	return &RuleEvaluator{
		Name:       name,
		Priority:   priority,
		Action:     action,
		conditions: conditions,
	}
}

// Evaluate stops at the first condition that does not hold. Cancellation is checked before every condition.
func (r *RuleEvaluator) Evaluate(ctx context.Context, ec *EvaluationContext) (matched bool, err error) {
	for _, c := range r.conditions {
		if err = ctx.Err(); err != nil {
			return
		}

		var ok bool
		ok, err = c.Evaluate(ctx, ec)
		if err != nil || !ok {
			return
		}
	}

	matched = true
	return
}

// RuleMatch is the first rule of a route that matched a request.
type RuleMatch struct {
	RuleName string
	Action   waf.Action
	Matches  []waf.MatchValue
}

// RouteEvaluator is the compiled firewall of one route. It is immutable and safe for concurrent use.
type RouteEvaluator struct {
	RouteID           string
	Route             waf.Route
	Enabled           bool
	Mode              waf.Mode
	RedirectURI       string
	BlockedStatusCode int

	rules           []*RuleEvaluator
	formParser      waf.FormParser
	forwardedHeader string
}

// NewRouteEvaluator sorts the rules by priority. Rules with the same priority keep their order.
func NewRouteEvaluator(config waf.RouteFirewallConfig, route waf.Route, rules []*RuleEvaluator, formParser waf.FormParser, forwardedHeader string) *RouteEvaluator {
	sorted := make([]*RuleEvaluator, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	return &RouteEvaluator{
		RouteID:           config.RouteID,
		Route:             route,
		Enabled:           config.Enabled,
		Mode:              config.Mode,
		RedirectURI:       config.RedirectURI,
		BlockedStatusCode: config.StatusCode(),
		rules:             sorted,
		formParser:        formParser,
		forwardedHeader:   forwardedHeader,
	}
}

// Rules returns the rules in evaluation order.
func (r *RouteEvaluator) Rules() []*RuleEvaluator {
	return r.rules
}

// EvaluateRequest returns the first rule that matches req. Later rules are not evaluated.
// A disabled route, a cancelled ctx, or a fault in any condition all yield no match for the whole request.
func (r *RouteEvaluator) EvaluateRequest(ctx context.Context, logger zerolog.Logger, req waf.HTTPRequest) (match RuleMatch, ok bool) {
	if !r.Enabled {
		return
	}

	logger = logger.With().Str("routeId", r.RouteID).Logger()
	defer func() {
		if p := recover(); p != nil {
			logger.Error().Str("panic", fmt.Sprint(p)).Msg("Rule evaluation panicked, treating request as not matching")
			match, ok = RuleMatch{}, false
		}
	}()

	ec := NewEvaluationContext(logger, req, r.formParser, r.forwardedHeader)
	for _, rule := range r.rules {
		mark := len(ec.Matches)

		matched, err := rule.Evaluate(ctx, ec)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug().Err(err).Msg("Evaluation cancelled")
			} else {
				logger.Error().Err(err).Str("ruleName", rule.Name).Msg("Rule evaluation failed, treating request as not matching")
			}
			return
		}

		if matched {
			match = RuleMatch{RuleName: rule.Name, Action: rule.Action, Matches: ec.Matches[mark:]}
			ok = true
			return
		}

		// Evidence from conditions of a rule that did not match as a whole is dropped.
		ec.Matches = ec.Matches[:mark]
	}

	return
}
