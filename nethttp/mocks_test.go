package nethttp

import (
	"testing"

	"proxywaf/bodyparsing"
	"proxywaf/config"
	"proxywaf/customrule"
	"proxywaf/firewall"
	"proxywaf/testutils"
	"proxywaf/waf"

	"github.com/stretchr/testify/require"
)

type mockResultsLogger struct {
	records []waf.AuditRecord
}

func (l *mockResultsLogger) RuleTriggered(rec waf.AuditRecord) {
	l.records = append(l.records, rec)
}

// newBlockingManager publishes one Prevention firewall for route "api" that blocks bodies containing a script tag.
func newBlockingManager(t *testing.T) *firewall.Manager {
	source := config.NewMemoryProvider(true)
	source.Update(config.Document{Firewalls: []waf.RouteFirewallConfig{{
		RouteID: "api",
		Enabled: true,
		Mode:    waf.Prevention,
		Rules: []waf.RuleConfig{{
			RuleName: "blockScripts",
			Priority: 1,
			Action:   waf.Block,
			Conditions: []waf.MatchCondition{
				{String: &waf.StringMatch{Variable: waf.RequestBody, Operator: waf.Contains, Values: []string{"<script>"}, Transforms: []waf.Transform{waf.Lowercase}}},
			},
		}},
	}}})

	builder := customrule.NewEvaluatorBuilder(bodyparsing.NewFormParser(waf.DefaultLengthLimits), "X-Forwarded-For", customrule.DefaultConditionFactories(nil)...)
	m := firewall.NewManager(testutils.NewTestLogger(t), builder, nil, 0, source)
	require.NoError(t, m.Reload())
	return m
}
