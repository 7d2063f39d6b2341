package firewall

import (
	"io"
	"strings"
	"sync"
	"testing"

	"proxywaf/bodyparsing"
	"proxywaf/config"
	"proxywaf/customrule"
	"proxywaf/testutils"
	"proxywaf/waf"
)

type mockWafHTTPRequest struct {
	uri string
}

func (r *mockWafHTTPRequest) Method() string            { return "GET" }
func (r *mockWafHTTPRequest) URI() string               { return r.uri }
func (r *mockWafHTTPRequest) RemoteAddr() string        { return "192.0.2.10:40000" }
func (r *mockWafHTTPRequest) Headers() []waf.HeaderPair { return nil }
func (r *mockWafHTTPRequest) TransactionID() string     { return "txid1" }
func (r *mockWafHTTPRequest) OpenBody() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type mockResultsLogger struct {
	mu      sync.Mutex
	records []waf.AuditRecord
}

func (l *mockResultsLogger) RuleTriggered(rec waf.AuditRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func newTestBuilder() *customrule.EvaluatorBuilder {
	return customrule.NewEvaluatorBuilder(
		bodyparsing.NewFormParser(waf.DefaultLengthLimits),
		"X-Forwarded-For",
		customrule.DefaultConditionFactories(nil)...)
}

func newTestManager(t *testing.T, routes waf.RouteSource, sources ...waf.ConfigProvider) *Manager {
	return NewManager(testutils.NewTestLogger(t), newTestBuilder(), routes, 0, sources...)
}

// queryFirewall builds a firewall for routeID with one rule that fires when query param "a" contains "1".
func queryFirewall(routeID string, mode waf.Mode, action waf.Action) waf.RouteFirewallConfig {
	c := waf.RouteFirewallConfig{
		RouteID: routeID,
		Enabled: true,
		Mode:    mode,
		Rules: []waf.RuleConfig{{
			RuleName: "queryRule",
			Priority: 1,
			Action:   action,
			Conditions: []waf.MatchCondition{
				{String: &waf.StringMatch{Variable: waf.QueryParam, Selector: "a", Operator: waf.Contains, Values: []string{"1"}}},
			},
		}},
	}
	if action == waf.Redirect {
		c.RedirectURI = "https://example.com/denied"
	}
	return c
}

func firewallsDocument(firewalls ...waf.RouteFirewallConfig) config.Document {
	return config.Document{Firewalls: firewalls}
}
