package customrule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"proxywaf/ipaddresses"
	"proxywaf/waf"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// ConditionFactory validates and compiles one kind of MatchCondition.
type ConditionFactory interface {
	Kind() waf.ConditionKind
	// Validate returns every structural problem of c, or nil.
	Validate(c waf.MatchCondition) error
	// Build compiles a condition that passed Validate.
	Build(c waf.MatchCondition) (ConditionEvaluator, error)
}

// DefaultConditionFactories returns a factory for every condition kind. resolver may be nil, in which case GeoIP conditions do not validate.
func DefaultConditionFactories(resolver waf.CountryResolver) []ConditionFactory {
	return []ConditionFactory{
		newStringConditionFactory(),
		newSizeConditionFactory(),
		newIPAddressConditionFactory(),
		newGeoIPConditionFactory(resolver),
	}
}

type variableScope int

const (
	_ variableScope = iota
	singleValueScope
	multiValueScope
	bodyScope
	addressScope
)

func scopeOf(v waf.MatchVariable) variableScope {
	if v.IsAddress() {
		return addressScope
	}

	switch v {
	case waf.RequestMethod, waf.RequestPath, waf.RequestURI, waf.QueryString:
		return singleValueScope
	case waf.QueryParam, waf.PostArgs, waf.RequestHeader, waf.RequestCookie:
		return multiValueScope
	case waf.RequestBody:
		return bodyScope
	}
	return 0
}

// constructorKey is the second level of the factory lookup: the evaluator constructor per variable scope and operator.
type constructorKey struct {
	scope    variableScope
	operator waf.Operator
}

var errNoConstructor = errors.New("no evaluator for this variable and operator")

func validateVariable(variable waf.MatchVariable, selector string, operator waf.Operator, supported func(constructorKey) bool) (err error) {
	scope := scopeOf(variable)
	if scope == 0 {
		return fmt.Errorf("unknown match variable %q", variable)
	}

	if !supported(constructorKey{scope, operator}) {
		err = multierr.Append(err, fmt.Errorf("operator %q is not supported for variable %q", operator, variable))
	}

	if variable.IsMultiValued() && strings.TrimSpace(selector) == "" {
		err = multierr.Append(err, fmt.Errorf("variable %q requires a selector", variable))
	} else if !variable.IsMultiValued() && selector != "" {
		err = multierr.Append(err, fmt.Errorf("variable %q does not take a selector", variable))
	}

	return
}

func validateTransforms(transforms []waf.Transform) (err error) {
	for _, t := range transforms {
		if !isKnownTransform(t) {
			err = multierr.Append(err, fmt.Errorf("unknown transform %q", t))
		}
	}
	return
}

type stringConstructor func(negate bool, c *waf.StringMatch) (ConditionEvaluator, error)

type stringConditionFactory struct {
	constructors map[constructorKey]stringConstructor
}

func newStringConditionFactory() *stringConditionFactory {
	f := &stringConditionFactory{constructors: make(map[constructorKey]stringConstructor)}
	for _, scope := range []variableScope{singleValueScope, multiValueScope} {
		f.constructors[constructorKey{scope, waf.Any}] = newAnyValueCondition
		f.constructors[constructorKey{scope, waf.Regex}] = newRegexValueCondition
		for _, op := range []waf.Operator{waf.Equals, waf.Contains, waf.StartsWith, waf.EndsWith} {
			f.constructors[constructorKey{scope, op}] = newStringValueCondition
		}
	}

	f.constructors[constructorKey{bodyScope, waf.Any}] = newAnyBodyCondition
	f.constructors[constructorKey{bodyScope, waf.Equals}] = newPrefixBodyCondition
	f.constructors[constructorKey{bodyScope, waf.StartsWith}] = newPrefixBodyCondition
	f.constructors[constructorKey{bodyScope, waf.Contains}] = newWindowBodyCondition
	f.constructors[constructorKey{bodyScope, waf.EndsWith}] = newWindowBodyCondition
	f.constructors[constructorKey{bodyScope, waf.Regex}] = newRegexBodyCondition
	return f
}

func (f *stringConditionFactory) Kind() waf.ConditionKind { return waf.StringCondition }

func (f *stringConditionFactory) supported(k constructorKey) bool {
	_, ok := f.constructors[k]
	return ok
}

func (f *stringConditionFactory) Validate(mc waf.MatchCondition) (err error) {
	c := mc.String
	err = validateVariable(c.Variable, c.Selector, c.Operator, f.supported)
	err = multierr.Append(err, validateTransforms(c.Transforms))

	if c.Operator != waf.Any && len(c.Values) == 0 {
		err = multierr.Append(err, fmt.Errorf("operator %q requires at least one value", c.Operator))
	}

	if c.Operator == waf.Regex {
		for _, v := range c.Values {
			if _, reErr := regexp2.Compile(v, regexp2.RE2); reErr != nil {
				err = multierr.Append(err, fmt.Errorf("invalid regex %q: %w", v, reErr))
			}
		}
	}

	return
}

func (f *stringConditionFactory) Build(mc waf.MatchCondition) (ConditionEvaluator, error) {
	// The evaluator keeps its own copy, so later changes to the config cannot reach it.
	c := &waf.StringMatch{
		Variable:   mc.String.Variable,
		Selector:   mc.String.Selector,
		Operator:   mc.String.Operator,
		Values:     append([]string(nil), mc.String.Values...),
		Transforms: append([]waf.Transform(nil), mc.String.Transforms...),
	}
	ctor, ok := f.constructors[constructorKey{scopeOf(c.Variable), c.Operator}]
	if !ok {
		return nil, fmt.Errorf("%w: %v %v", errNoConstructor, c.Variable, c.Operator)
	}
	return ctor(mc.Negate, c)
}

func stringBase(negate bool, c *waf.StringMatch) conditionBase {
	return conditionBase{negate: negate, variable: c.Variable, selector: c.Selector, operator: c.Operator}
}

func newAnyValueCondition(negate bool, c *waf.StringMatch) (ConditionEvaluator, error) {
	return &valueConditionEvaluator{conditionBase: stringBase(negate, c), transforms: c.Transforms, match: anyMatch}, nil
}

func newStringValueCondition(negate bool, c *waf.StringMatch) (ConditionEvaluator, error) {
	return &valueConditionEvaluator{conditionBase: stringBase(negate, c), transforms: c.Transforms, match: stringMatch(c.Operator, c.Values)}, nil
}

func compileRegexes(values []string, timeout time.Duration) (regexes []*regexp2.Regexp, err error) {
	for _, v := range values {
		var re *regexp2.Regexp
		re, err = compileRegex(v, timeout)
		if err != nil {
			return
		}
		regexes = append(regexes, re)
	}
	return
}

func newRegexValueCondition(negate bool, c *waf.StringMatch) (ConditionEvaluator, error) {
	regexes, err := compileRegexes(c.Values, ValueRegexTimeout)
	if err != nil {
		return nil, err
	}
	return &valueConditionEvaluator{conditionBase: stringBase(negate, c), transforms: c.Transforms, match: regexMatch(regexes)}, nil
}

func newAnyBodyCondition(negate bool, c *waf.StringMatch) (ConditionEvaluator, error) {
	return &bodyConditionEvaluator{
		conditionBase: stringBase(negate, c),
		transforms:    c.Transforms,
		newMatcher:    func(zerolog.Logger) bodyMatcher { return &anyBodyMatcher{} },
	}, nil
}

func newPrefixBodyCondition(negate bool, c *waf.StringMatch) (ConditionEvaluator, error) {
	exact := c.Operator == waf.Equals
	return &bodyConditionEvaluator{
		conditionBase: stringBase(negate, c),
		transforms:    c.Transforms,
		newMatcher:    func(zerolog.Logger) bodyMatcher { return newPrefixBodyMatcher(c.Values, exact) },
	}, nil
}

func newWindowBodyCondition(negate bool, c *waf.StringMatch) (ConditionEvaluator, error) {
	suffix := c.Operator == waf.EndsWith
	urlDecoded := hasTransform(c.Transforms, waf.URLDecode)
	return &bodyConditionEvaluator{
		conditionBase: stringBase(negate, c),
		transforms:    c.Transforms,
		newMatcher:    func(zerolog.Logger) bodyMatcher { return newWindowBodyMatcher(c.Values, suffix, urlDecoded) },
	}, nil
}

func newRegexBodyCondition(negate bool, c *waf.StringMatch) (ConditionEvaluator, error) {
	regexes, err := compileRegexes(c.Values, BodyRegexTimeout)
	if err != nil {
		return nil, err
	}
	return &bodyConditionEvaluator{
		conditionBase: stringBase(negate, c),
		transforms:    c.Transforms,
		newMatcher: func(logger zerolog.Logger) bodyMatcher {
			return &regexBodyMatcher{logger: logger, regexes: regexes}
		},
	}, nil
}

type sizeConstructor func(negate bool, c *waf.SizeMatch) ConditionEvaluator

type sizeConditionFactory struct {
	constructors map[constructorKey]sizeConstructor
}

func newSizeConditionFactory() *sizeConditionFactory {
	f := &sizeConditionFactory{constructors: make(map[constructorKey]sizeConstructor)}
	for _, op := range []waf.Operator{waf.LessThan, waf.GreaterThan, waf.LessThanOrEqual, waf.GreaterThanOrEqual} {
		f.constructors[constructorKey{singleValueScope, op}] = newSizeValueCondition
		f.constructors[constructorKey{multiValueScope, op}] = newSizeValueCondition
		f.constructors[constructorKey{bodyScope, op}] = newSizeBodyCondition
	}
	return f
}

func (f *sizeConditionFactory) Kind() waf.ConditionKind { return waf.SizeCondition }

func (f *sizeConditionFactory) supported(k constructorKey) bool {
	_, ok := f.constructors[k]
	return ok
}

func (f *sizeConditionFactory) Validate(mc waf.MatchCondition) (err error) {
	c := mc.Size
	err = validateVariable(c.Variable, c.Selector, c.Operator, f.supported)
	err = multierr.Append(err, validateTransforms(c.Transforms))
	if c.MatchValue < 0 {
		err = multierr.Append(err, fmt.Errorf("size threshold %v is negative", c.MatchValue))
	}
	return
}

func (f *sizeConditionFactory) Build(mc waf.MatchCondition) (ConditionEvaluator, error) {
	c := mc.Size
	ctor, ok := f.constructors[constructorKey{scopeOf(c.Variable), c.Operator}]
	if !ok {
		return nil, fmt.Errorf("%w: %v %v", errNoConstructor, c.Variable, c.Operator)
	}
	return ctor(mc.Negate, c), nil
}

func sizeBase(negate bool, c *waf.SizeMatch) conditionBase {
	return conditionBase{negate: negate, variable: c.Variable, selector: c.Selector, operator: c.Operator}
}

func newSizeValueCondition(negate bool, c *waf.SizeMatch) ConditionEvaluator {
	return &valueConditionEvaluator{
		conditionBase: sizeBase(negate, c),
		transforms:    sizeTransforms(c.Transforms),
		absentAsEmpty: true,
		match:         sizeMatch(c.Operator, c.MatchValue),
	}
}

func newSizeBodyCondition(negate bool, c *waf.SizeMatch) ConditionEvaluator {
	operator, threshold := c.Operator, c.MatchValue
	return &bodyConditionEvaluator{
		conditionBase: sizeBase(negate, c),
		transforms:    sizeTransforms(c.Transforms),
		newMatcher: func(zerolog.Logger) bodyMatcher {
			return &sizeBodyMatcher{operator: operator, threshold: threshold}
		},
	}
}

type ipAddressConditionFactory struct {
	constructors map[constructorKey]func(values []string) (*ipaddresses.AddressSet, error)
}

func newIPAddressConditionFactory() *ipAddressConditionFactory {
	return &ipAddressConditionFactory{
		constructors: map[constructorKey]func(values []string) (*ipaddresses.AddressSet, error){
			{addressScope, waf.IPMatch}:      ipaddresses.NewAddressSet,
			{addressScope, waf.IPRangeMatch}: ipaddresses.NewRangeSet,
		},
	}
}

func (f *ipAddressConditionFactory) Kind() waf.ConditionKind { return waf.IPAddressCondition }

func (f *ipAddressConditionFactory) supported(k constructorKey) bool {
	_, ok := f.constructors[k]
	return ok
}

func (f *ipAddressConditionFactory) Validate(mc waf.MatchCondition) (err error) {
	c := mc.IPAddress
	err = validateVariable(c.Variable, "", c.Operator, f.supported)
	if len(c.Values) == 0 {
		err = multierr.Append(err, fmt.Errorf("operator %q requires at least one value", c.Operator))
	}

	if newSet, ok := f.constructors[constructorKey{scopeOf(c.Variable), c.Operator}]; ok {
		for _, v := range c.Values {
			if _, parseErr := newSet([]string{v}); parseErr != nil {
				err = multierr.Append(err, parseErr)
			}
		}
	}
	return
}

func (f *ipAddressConditionFactory) Build(mc waf.MatchCondition) (ConditionEvaluator, error) {
	c := mc.IPAddress
	newSet, ok := f.constructors[constructorKey{scopeOf(c.Variable), c.Operator}]
	if !ok {
		return nil, fmt.Errorf("%w: %v %v", errNoConstructor, c.Variable, c.Operator)
	}

	set, err := newSet(c.Values)
	if err != nil {
		return nil, err
	}

	return &ipConditionEvaluator{
		conditionBase: conditionBase{negate: mc.Negate, variable: c.Variable, operator: c.Operator},
		set:           set,
	}, nil
}

type geoIPConditionFactory struct {
	resolver waf.CountryResolver
}

func newGeoIPConditionFactory(resolver waf.CountryResolver) *geoIPConditionFactory {
	return &geoIPConditionFactory{resolver: resolver}
}

func (f *geoIPConditionFactory) Kind() waf.ConditionKind { return waf.GeoIPCondition }

func (f *geoIPConditionFactory) Validate(mc waf.MatchCondition) (err error) {
	c := mc.GeoIP
	if scopeOf(c.Variable) != addressScope {
		err = multierr.Append(err, fmt.Errorf("operator %q is not supported for variable %q", waf.GeoMatch, c.Variable))
	}

	if len(c.Countries) == 0 {
		err = multierr.Append(err, errors.New("GeoIP condition requires at least one country"))
	}
	for _, country := range c.Countries {
		if strings.TrimSpace(country) == "" {
			err = multierr.Append(err, errors.New("GeoIP condition has an empty country"))
		}
	}

	if f.resolver == nil {
		err = multierr.Append(err, errors.New("GeoIP condition used, but no GeoIP database is configured"))
	} else if readyErr := f.resolver.Ready(); readyErr != nil {
		err = multierr.Append(err, fmt.Errorf("GeoIP database is not usable: %w", readyErr))
	}

	return
}

func (f *geoIPConditionFactory) Build(mc waf.MatchCondition) (ConditionEvaluator, error) {
	if f.resolver == nil {
		return nil, errors.New("no GeoIP database is configured")
	}
	return newGeoIPConditionEvaluator(mc.Negate, mc.GeoIP, f.resolver), nil
}
