package customrule

import (
	"context"
	"errors"
	"testing"

	"proxywaf/testutils"
	"proxywaf/waf"

	"github.com/stretchr/testify/assert"
)

func newTestRoute(enabled bool, rules ...*RuleEvaluator) *RouteEvaluator {
	config := waf.RouteFirewallConfig{RouteID: "route1", Enabled: enabled, Mode: waf.Prevention}
	return NewRouteEvaluator(config, waf.Route{ID: "route1"}, rules, testFormParser, "X-Forwarded-For")
}

func TestRulesEvaluatedByPriority(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	var order []string
	newRule := func(name string, priority int) *RuleEvaluator {
		c := &countingCondition{onCall: func() { order = append(order, name) }}
		return NewRuleEvaluator(name, priority, waf.Block, []ConditionEvaluator{c})
	}
	route := newTestRoute(true, newRule("ten", 10), newRule("five", 5), newRule("twenty", 20), newRule("otherfive", 5))

	// Act
	_, ok := route.EvaluateRequest(context.Background(), testutils.NewTestLogger(t), &mockWafHTTPRequest{})

	// Assert
	assert.False(ok)
	assert.Equal([]string{"five", "otherfive", "ten", "twenty"}, order)
	assert.Equal("five", route.Rules()[0].Name)
}

func TestFirstMatchingRuleWins(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	first := &countingCondition{result: false}
	second := &countingCondition{result: true}
	third := &countingCondition{result: true}
	route := newTestRoute(true,
		NewRuleEvaluator("r1", 1, waf.Block, []ConditionEvaluator{first}),
		NewRuleEvaluator("r2", 2, waf.Log, []ConditionEvaluator{second}),
		NewRuleEvaluator("r3", 3, waf.Block, []ConditionEvaluator{third}),
	)

	// Act
	match, ok := route.EvaluateRequest(context.Background(), testutils.NewTestLogger(t), &mockWafHTTPRequest{})

	// Assert
	assert.True(ok)
	assert.Equal("r2", match.RuleName)
	assert.Equal(waf.Log, match.Action)
	assert.Equal([]waf.MatchValue{{Variable: waf.RequestMethod, Operator: waf.Equals, Value: "counted"}}, match.Matches)
	assert.Equal(1, first.calls)
	assert.Equal(1, second.calls)
	assert.Equal(0, third.calls)
}

func TestConditionsShortCircuit(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	a := &countingCondition{result: true}
	b := &countingCondition{result: false}
	c := &countingCondition{result: true}
	rule := NewRuleEvaluator("r1", 1, waf.Block, []ConditionEvaluator{a, b, c})

	// Act
	matched, err := rule.Evaluate(context.Background(), newTestContext(t, &mockWafHTTPRequest{}))

	// Assert
	assert.Nil(err)
	assert.False(matched)
	assert.Equal(1, a.calls)
	assert.Equal(1, b.calls)
	assert.Equal(0, c.calls)
}

func TestEvidenceOfFailedRuleIsDropped(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	partial := NewRuleEvaluator("partial", 1, waf.Block, []ConditionEvaluator{
		&countingCondition{result: true},
		&countingCondition{result: false},
	})
	full := NewRuleEvaluator("full", 2, waf.Block, []ConditionEvaluator{&countingCondition{result: true}})
	route := newTestRoute(true, partial, full)

	// Act
	match, ok := route.EvaluateRequest(context.Background(), testutils.NewTestLogger(t), &mockWafHTTPRequest{})

	// Assert
	assert.True(ok)
	assert.Equal("full", match.RuleName)
	assert.Len(match.Matches, 1)
}

func TestDisabledRouteNeverMatches(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	c := &countingCondition{result: true}
	route := newTestRoute(false, NewRuleEvaluator("r1", 1, waf.Block, []ConditionEvaluator{c}))

	// Act
	_, ok := route.EvaluateRequest(context.Background(), testutils.NewTestLogger(t), &mockWafHTTPRequest{})

	// Assert
	assert.False(ok)
	assert.Equal(0, c.calls)
}

func TestCancelledEvaluationDoesNotMatch(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	first := &countingCondition{result: true, onCall: cancel}
	second := &countingCondition{result: true}
	route := newTestRoute(true, NewRuleEvaluator("r1", 1, waf.Block, []ConditionEvaluator{first, second}))

	// Act
	_, ok := route.EvaluateRequest(ctx, testutils.NewTestLogger(t), &mockWafHTTPRequest{})

	// Assert
	assert.False(ok)
	assert.Equal(1, first.calls)
	assert.Equal(0, second.calls)
}

func TestFaultingConditionAbortsRequest(t *testing.T) {
	tests := []struct {
		name string
		cond *countingCondition
	}{
		{"error", &countingCondition{err: errors.New("body read failed")}},
		{"panic", &countingCondition{panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			later := &countingCondition{result: true}
			route := newTestRoute(true,
				NewRuleEvaluator("r1", 1, waf.Block, []ConditionEvaluator{tt.cond}),
				NewRuleEvaluator("r2", 2, waf.Block, []ConditionEvaluator{later}),
			)

			// Act
			match, ok := route.EvaluateRequest(context.Background(), testutils.NewTestLogger(t), &mockWafHTTPRequest{})

			// Assert
			assert.False(t, ok)
			assert.Equal(t, RuleMatch{}, match)
			assert.Equal(t, 0, later.calls)
		})
	}
}

func TestRouteEvaluatorCopiesSettings(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	config := waf.RouteFirewallConfig{RouteID: "r", Enabled: true, Mode: waf.Detection, RedirectURI: "https://example.com/blocked"}

	// Act
	route := NewRouteEvaluator(config, waf.Route{ID: "r", Path: "/api"}, nil, nil, "")

	// Assert
	assert.Equal("r", route.RouteID)
	assert.Equal("/api", route.Route.Path)
	assert.Equal(waf.Detection, route.Mode)
	assert.Equal(403, route.BlockedStatusCode)
	assert.Equal("https://example.com/blocked", route.RedirectURI)
}
