package firewall

import (
	"proxywaf/customrule"
	"proxywaf/waf"
)

// RouteFirewallModel is the published firewall of one route. Models are immutable once published and are replaced
// as a whole on reload.
type RouteFirewallModel struct {
	Config        waf.RouteFirewallConfig
	Route         waf.Route
	RouteRevision int64
	Evaluator     *customrule.RouteEvaluator
}

// HasChanged reports whether the model was built from a different config or an older revision of its proxy route.
func (m *RouteFirewallModel) HasChanged(config waf.RouteFirewallConfig, routeRevision int64) bool {
	return m.RouteRevision != routeRevision || !m.Config.Equal(config)
}
