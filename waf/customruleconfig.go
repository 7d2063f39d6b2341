package waf

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// MatchVariable identifies the entity of the HTTP request that a condition inspects.
type MatchVariable string

// Match variables available to conditions.
const (
	RequestMethod MatchVariable = "RequestMethod"
	RequestPath   MatchVariable = "RequestPath"
	RequestURI    MatchVariable = "RequestUri"
	QueryString   MatchVariable = "QueryString"
	QueryParam    MatchVariable = "QueryParam"
	PostArgs      MatchVariable = "PostArgs"
	RequestHeader MatchVariable = "RequestHeader"
	RequestCookie MatchVariable = "RequestCookie"
	RequestBody   MatchVariable = "RequestBody"
	RemoteAddress MatchVariable = "RemoteAddress"
	SocketAddress MatchVariable = "SocketAddress"
)

// IsMultiValued reports whether the variable holds several named values, and therefore needs a selector.
func (v MatchVariable) IsMultiValued() bool {
	switch v {
	case QueryParam, PostArgs, RequestHeader, RequestCookie:
		return true
	}
	return false
}

// IsAddress reports whether the variable is one of the client address variables.
func (v MatchVariable) IsAddress() bool {
	return v == RemoteAddress || v == SocketAddress
}

// Operator is the comparison a condition performs.
type Operator string

// String operators.
const (
	Any        Operator = "Any"
	Equals     Operator = "Equals"
	Contains   Operator = "Contains"
	StartsWith Operator = "StartsWith"
	EndsWith   Operator = "EndsWith"
	Regex      Operator = "Regex"
)

// Size operators.
const (
	LessThan           Operator = "LessThan"
	GreaterThan        Operator = "GreaterThan"
	LessThanOrEqual    Operator = "LessThanOrEqual"
	GreaterThanOrEqual Operator = "GreaterThanOrEqual"
)

// IP address operators.
const (
	IPMatch      Operator = "IPMatch"
	IPRangeMatch Operator = "IPRangeMatch"
)

// GeoMatch is the operator reported in match evidence for GeoIP conditions.
const GeoMatch Operator = "GeoMatch"

// Transform is a normalization step applied to a value before it is compared.
type Transform string

// Transforms available to Size and String conditions.
const (
	Uppercase Transform = "Uppercase"
	Lowercase Transform = "Lowercase"
	Trim      Transform = "Trim"
	URLEncode Transform = "UrlEncode"
	URLDecode Transform = "UrlDecode"
)

// IsCaseTransform reports whether the transform only changes letter case.
func (t Transform) IsCaseTransform() bool {
	return t == Uppercase || t == Lowercase
}

// Action is what should happen to a request when a rule matches.
type Action string

// Rule actions.
const (
	Allow    Action = "Allow"
	Block    Action = "Block"
	Log      Action = "Log"
	Redirect Action = "Redirect"
)

// Mode tells whether a route firewall only records matches or also enforces them.
type Mode string

// Firewall modes.
const (
	Detection  Mode = "Detection"
	Prevention Mode = "Prevention"
)

// ConditionKind tells which variant of a MatchCondition is set.
type ConditionKind int

// Condition kinds.
const (
	UnknownCondition ConditionKind = iota
	SizeCondition
	StringCondition
	IPAddressCondition
	GeoIPCondition
)

func (k ConditionKind) String() string {
	switch k {
	case SizeCondition:
		return "Size"
	case StringCondition:
		return "String"
	case IPAddressCondition:
		return "IPAddress"
	case GeoIPCondition:
		return "GeoIP"
	}
	return "Unknown"
}

// SizeMatch compares the length of a request value against a threshold.
type SizeMatch struct {
	Variable   MatchVariable `yaml:"variable" json:"variable"`
	Selector   string        `yaml:"selector,omitempty" json:"selector,omitempty"`
	Operator   Operator      `yaml:"operator" json:"operator"`
	MatchValue int64         `yaml:"matchValue" json:"matchValue"`
	Transforms []Transform   `yaml:"transforms,omitempty" json:"transforms,omitempty"`
}

// StringMatch compares a request value against a set of strings or regular expressions.
type StringMatch struct {
	Variable   MatchVariable `yaml:"variable" json:"variable"`
	Selector   string        `yaml:"selector,omitempty" json:"selector,omitempty"`
	Operator   Operator      `yaml:"operator" json:"operator"`
	Values     []string      `yaml:"values,omitempty" json:"values,omitempty"`
	Transforms []Transform   `yaml:"transforms,omitempty" json:"transforms,omitempty"`
}

// IPAddressMatch compares the client address against addresses or CIDR ranges.
type IPAddressMatch struct {
	Variable MatchVariable `yaml:"variable" json:"variable"`
	Operator Operator      `yaml:"operator" json:"operator"`
	Values   []string      `yaml:"values" json:"values"`
}

// GeoIPMatch compares the country of the client address against country names or ISO codes.
type GeoIPMatch struct {
	Variable  MatchVariable `yaml:"variable" json:"variable"`
	Countries []string      `yaml:"countries" json:"countries"`
}

// MatchCondition is a single predicate over one request attribute. Exactly one of the variants must be set.
type MatchCondition struct {
	Negate    bool            `yaml:"negate,omitempty" json:"negate,omitempty"`
	Size      *SizeMatch      `yaml:"size,omitempty" json:"size,omitempty"`
	String    *StringMatch    `yaml:"string,omitempty" json:"string,omitempty"`
	IPAddress *IPAddressMatch `yaml:"ipAddress,omitempty" json:"ipAddress,omitempty"`
	GeoIP     *GeoIPMatch     `yaml:"geoIp,omitempty" json:"geoIp,omitempty"`
}

// Kind reports which variant is set. UnknownCondition is returned when none or several are.
func (c MatchCondition) Kind() (kind ConditionKind) {
	set := 0
	if c.Size != nil {
		kind = SizeCondition
		set++
	}
	if c.String != nil {
		kind = StringCondition
		set++
	}
	if c.IPAddress != nil {
		kind = IPAddressCondition
		set++
	}
	if c.GeoIP != nil {
		kind = GeoIPCondition
		set++
	}
	if set != 1 {
		kind = UnknownCondition
	}
	return
}

// RuleConfig is a named, prioritized AND-group of conditions plus an action.
type RuleConfig struct {
	RuleName   string           `yaml:"ruleName" json:"ruleName"`
	Priority   int              `yaml:"priority" json:"priority"`
	Action     Action           `yaml:"action" json:"action"`
	Conditions []MatchCondition `yaml:"conditions" json:"conditions"`
}

// RouteFirewallConfig is the firewall configuration attached to one proxied route.
type RouteFirewallConfig struct {
	RouteID           string       `yaml:"routeId" json:"routeId"`
	Enabled           bool         `yaml:"enabled" json:"enabled"`
	Mode              Mode         `yaml:"mode" json:"mode"`
	RedirectURI       string       `yaml:"redirectUri,omitempty" json:"redirectUri,omitempty"`
	BlockedStatusCode int          `yaml:"blockedStatusCode,omitempty" json:"blockedStatusCode,omitempty"`
	Rules             []RuleConfig `yaml:"rules" json:"rules"`
}

// DefaultBlockedStatusCode is used when a route does not configure one.
const DefaultBlockedStatusCode = 403

// StatusCode returns the configured blocked status code or the default.
func (c RouteFirewallConfig) StatusCode() int {
	if c.BlockedStatusCode == 0 {
		return DefaultBlockedStatusCode
	}
	return c.BlockedStatusCode
}

// Equal compares two configs structurally. Nil and empty slices are considered equal.
func (c RouteFirewallConfig) Equal(other RouteFirewallConfig) bool {
	// The conversion drops the Equal method, which cmp would otherwise call recursively.
	return cmp.Equal(routeFirewallFields(c), routeFirewallFields(other), cmpopts.EquateEmpty())
}

type routeFirewallFields RouteFirewallConfig
