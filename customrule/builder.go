package customrule

import (
	"fmt"
	"strings"

	"proxywaf/waf"

	"go.uber.org/multierr"
)

// EvaluatorBuilder validates RouteFirewallConfigs and compiles them into RouteEvaluators.
type EvaluatorBuilder struct {
	factories       map[waf.ConditionKind]ConditionFactory
	formParser      waf.FormParser
	forwardedHeader string
}

// NewEvaluatorBuilder creates a builder that dispatches each condition to the factory registered for its kind.
func NewEvaluatorBuilder(formParser waf.FormParser, forwardedHeader string, factories ...ConditionFactory) *EvaluatorBuilder {
	b := &EvaluatorBuilder{
		factories:       make(map[waf.ConditionKind]ConditionFactory, len(factories)),
		formParser:      formParser,
		forwardedHeader: forwardedHeader,
	}
	for _, f := range factories {
		b.factories[f.Kind()] = f
	}
	return b
}

// Validate returns every structural problem of config as one aggregated error, or nil when config can be built.
func (b *EvaluatorBuilder) Validate(config waf.RouteFirewallConfig) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = multierr.Append(err, fmt.Errorf("route %q: validation fault: %v", config.RouteID, p))
		}
	}()

	route := fmt.Sprintf("route %q", config.RouteID)
	if strings.TrimSpace(config.RouteID) == "" {
		err = multierr.Append(err, fmt.Errorf("%v: route id is empty", route))
	}

	if config.Mode != waf.Detection && config.Mode != waf.Prevention {
		err = multierr.Append(err, fmt.Errorf("%v: unknown mode %q", route, config.Mode))
	}

	if config.BlockedStatusCode != 0 && (config.BlockedStatusCode < 400 || config.BlockedStatusCode > 599) {
		err = multierr.Append(err, fmt.Errorf("%v: blocked status code %v is not a 4xx or 5xx code", route, config.BlockedStatusCode))
	}

	names := make(map[string]bool, len(config.Rules))
	for i, rule := range config.Rules {
		where := fmt.Sprintf("%v rule %q", route, rule.RuleName)
		if rule.RuleName == "" {
			where = fmt.Sprintf("%v rule #%v", route, i)
			err = multierr.Append(err, fmt.Errorf("%v: rule name is empty", where))
		} else if names[rule.RuleName] {
			err = multierr.Append(err, fmt.Errorf("%v: rule name is not unique", where))
		}
		names[rule.RuleName] = true

		switch rule.Action {
		case waf.Allow, waf.Block, waf.Log:
		case waf.Redirect:
			if config.RedirectURI == "" {
				err = multierr.Append(err, fmt.Errorf("%v: redirect action requires the route to have a redirect URI", where))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("%v: unknown action %q", where, rule.Action))
		}

		if len(rule.Conditions) == 0 {
			err = multierr.Append(err, fmt.Errorf("%v: rule has no conditions", where))
		}

		for j, c := range rule.Conditions {
			f, ok := b.factories[c.Kind()]
			if !ok {
				err = multierr.Append(err, fmt.Errorf("%v condition %v: no factory recognizes the condition", where, j))
				continue
			}

			for _, condErr := range multierr.Errors(f.Validate(c)) {
				err = multierr.Append(err, fmt.Errorf("%v condition %v: %w", where, j, condErr))
			}
		}
	}

	return
}

// Build compiles a config that passed Validate. An error here means Validate missed a problem.
func (b *EvaluatorBuilder) Build(config waf.RouteFirewallConfig, route waf.Route) (evaluator *RouteEvaluator, err error) {
	defer func() {
		if p := recover(); p != nil {
			evaluator = nil
			err = fmt.Errorf("route %q: build fault: %v", config.RouteID, p)
		}
	}()

	rules := make([]*RuleEvaluator, 0, len(config.Rules))
	for _, rule := range config.Rules {
		conditions := make([]ConditionEvaluator, 0, len(rule.Conditions))
		for j, c := range rule.Conditions {
			f, ok := b.factories[c.Kind()]
			if !ok {
				err = fmt.Errorf("route %q rule %q condition %v: no factory recognizes the condition", config.RouteID, rule.RuleName, j)
				return
			}

			var ce ConditionEvaluator
			ce, err = f.Build(c)
			if err != nil {
				err = fmt.Errorf("route %q rule %q condition %v: %w", config.RouteID, rule.RuleName, j, err)
				return
			}
			conditions = append(conditions, ce)
		}

		rules = append(rules, NewRuleEvaluator(rule.RuleName, rule.Priority, rule.Action, conditions))
	}

	evaluator = NewRouteEvaluator(config, route, rules, b.formParser, b.forwardedHeader)
	return
}
