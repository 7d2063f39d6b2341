package customrule

import (
	"context"
	"strings"
	"time"

	"proxywaf/ipaddresses"
	"proxywaf/waf"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog"
)

// Regex match timeouts. Whole bodies get more time than single values.
const (
	ValueRegexTimeout = time.Second
	BodyRegexTimeout  = 10 * time.Second
)

// ConditionEvaluator is the compiled form of one MatchCondition.
type ConditionEvaluator interface {
	// Evaluate reports whether the condition holds for the request, after negation. Evidence is only recorded for raw matches.
	Evaluate(ctx context.Context, ec *EvaluationContext) (bool, error)
}

// conditionBase holds what every condition variant has in common.
type conditionBase struct {
	negate   bool
	variable waf.MatchVariable
	selector string
	operator waf.Operator
}

// result records the evidence of a raw match and applies negation.
func (b conditionBase) result(ec *EvaluationContext, raw bool, evidence string) bool {
	if raw {
		ec.AddMatch(b.variable, b.operator, evidence)
	}

	ec.Logger.Debug().
		Str("variable", string(b.variable)).
		Str("selector", b.selector).
		Str("operator", string(b.operator)).
		Bool("negate", b.negate).
		Bool("rawMatch", raw).
		Msg("Condition evaluated")

	return raw != b.negate
}

// valueMatchFunc tests one transformed value. It returns the evidence to record on a match.
type valueMatchFunc func(logger zerolog.Logger, value string) (evidence string, ok bool)

// valueConditionEvaluator tests every value of a non-body variable. One matching value is enough.
type valueConditionEvaluator struct {
	conditionBase
	transforms []waf.Transform
	// absentAsEmpty makes a missing value count as the empty string, as Size conditions require.
	absentAsEmpty bool
	match         valueMatchFunc
}

func (e *valueConditionEvaluator) Evaluate(ctx context.Context, ec *EvaluationContext) (matched bool, err error) {
	values, err := ec.Values(ctx, e.variable, e.selector)
	if err != nil {
		return
	}

	if len(values) == 0 && e.absentAsEmpty {
		values = []string{""}
	}

	for _, v := range values {
		if evidence, ok := e.match(ec.Logger, applyTransforms(v, e.transforms)); ok {
			matched = e.result(ec, true, evidence)
			return
		}
	}

	matched = e.result(ec, false, "")
	return
}

func anyMatch(_ zerolog.Logger, value string) (string, bool) {
	return value, value != ""
}

func stringMatch(operator waf.Operator, candidates []string) valueMatchFunc {
	var test func(value, candidate string) bool
	switch operator {
	case waf.Equals:
		test = func(value, candidate string) bool { return value == candidate }
	case waf.Contains:
		test = strings.Contains
	case waf.StartsWith:
		test = strings.HasPrefix
	case waf.EndsWith:
		test = strings.HasSuffix
	}

	return func(_ zerolog.Logger, value string) (string, bool) {
		for _, c := range candidates {
			if test(value, c) {
				return c, true
			}
		}
		return "", false
	}
}

func regexMatch(regexes []*regexp2.Regexp) valueMatchFunc {
	return func(logger zerolog.Logger, value string) (string, bool) {
		return matchRegexes(logger, regexes, value)
	}
}

// matchRegexes tries the patterns in order. A pattern that times out counts as not matching.
func matchRegexes(logger zerolog.Logger, regexes []*regexp2.Regexp, value string) (evidence string, ok bool) {
	for _, re := range regexes {
		m, err := re.FindStringMatch(value)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", re.String()).Msg("Regex evaluation did not complete")
			continue
		}

		if m != nil {
			return m.String(), true
		}
	}
	return
}

func sizeMatch(operator waf.Operator, threshold int64) valueMatchFunc {
	return func(_ zerolog.Logger, value string) (string, bool) {
		return value, compareSize(operator, int64(len(value)), threshold)
	}
}

// compileRegex compiles with RE2 compatible syntax, bounded by the given match timeout.
func compileRegex(expr string, timeout time.Duration) (re *regexp2.Regexp, err error) {
	re, err = regexp2.Compile(expr, regexp2.RE2)
	if err != nil {
		return
	}
	re.MatchTimeout = timeout
	return
}

// bodyConditionEvaluator streams the request body through a matcher.
// Multipart bodies with file attachments, and bodies over the length limit that did not match before the limit,
// never match, whether or not the condition is negated.
type bodyConditionEvaluator struct {
	conditionBase
	transforms []waf.Transform
	newMatcher bodyMatcherFactory
}

func (e *bodyConditionEvaluator) Evaluate(ctx context.Context, ec *EvaluationContext) (matched bool, err error) {
	hasFiles, err := ec.BodyHasFiles(ctx)
	if err != nil {
		return
	}
	if hasFiles {
		ec.Logger.Debug().Msg("Body condition skipped for multipart body with files")
		return
	}

	body, err := ec.OpenBody()
	if err != nil {
		return
	}
	defer body.Close()

	m := e.newMatcher(ec.Logger)
	raw, err := scanBody(ctx, body, e.transforms, m)
	if waf.IsLengthLimitError(err) {
		ec.Logger.Warn().Err(err).Msg("Body condition skipped for body over the length limit")
		err = nil
		return
	}
	if err != nil {
		return
	}

	matched = e.result(ec, raw, m.evidence())
	return
}

// ipConditionEvaluator checks the client or socket address against a set of addresses or ranges.
type ipConditionEvaluator struct {
	conditionBase
	set *ipaddresses.AddressSet
}

func (e *ipConditionEvaluator) Evaluate(ctx context.Context, ec *EvaluationContext) (matched bool, err error) {
	addr, addrErr := ec.Address(e.variable)
	if addrErr != nil {
		ec.Logger.Warn().Err(addrErr).Msg("Client address could not be parsed")
		matched = e.result(ec, false, "")
		return
	}

	raw := e.set.Contains(addr)
	matched = e.result(ec, raw, addr.String())
	return
}

// geoIPConditionEvaluator resolves the country of the client or socket address and compares it to a set of
// country names and ISO codes, case-insensitively. Private and other special purpose addresses have no country.
type geoIPConditionEvaluator struct {
	conditionBase
	resolver  waf.CountryResolver
	countries map[string]bool
}

func newGeoIPConditionEvaluator(negate bool, c *waf.GeoIPMatch, resolver waf.CountryResolver) *geoIPConditionEvaluator {
	e := &geoIPConditionEvaluator{
		conditionBase: conditionBase{negate: negate, variable: c.Variable, operator: waf.GeoMatch},
		resolver:      resolver,
		countries:     make(map[string]bool, len(c.Countries)),
	}
	for _, country := range c.Countries {
		e.countries[strings.ToLower(strings.TrimSpace(country))] = true
	}
	return e
}

func (e *geoIPConditionEvaluator) Evaluate(ctx context.Context, ec *EvaluationContext) (matched bool, err error) {
	addr, addrErr := ec.Address(e.variable)
	if addrErr != nil {
		ec.Logger.Warn().Err(addrErr).Msg("Client address could not be parsed")
		matched = e.result(ec, false, "")
		return
	}

	if ipaddresses.IsSpecialPurpose(addr) {
		matched = e.result(ec, false, "")
		return
	}

	country, found, lookupErr := e.resolver.ResolveCountry(addr)
	if lookupErr != nil {
		// An unreadable database means there is no country to compare.
		ec.Logger.Warn().Err(lookupErr).Str("address", addr.String()).Msg("GeoIP lookup failed")
	}

	raw := false
	evidence := ""
	if found {
		switch {
		case country.Name != "" && e.countries[strings.ToLower(country.Name)]:
			raw, evidence = true, country.Name
		case country.ISOCode != "" && e.countries[strings.ToLower(country.ISOCode)]:
			raw, evidence = true, country.ISOCode
		}
	}

	matched = e.result(ec, raw, evidence)
	return
}
