package firewall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proxywaf/config"
	"proxywaf/waf"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestReloadPublishesModels(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	source := config.NewMemoryProvider(true)
	source.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block), queryFirewall("b", waf.Detection, waf.Log)))
	m := newTestManager(t, nil, source)

	// Act
	err := m.Reload()

	// Assert
	assert.Nil(err)
	assert.Equal([]string{"a", "b"}, m.RouteIDs())
	model, ok := m.Model("a")
	assert.True(ok)
	assert.Equal("a", model.Evaluator.RouteID)
	assert.Equal([]SourceState{Loaded}, m.SourceStates())
}

func TestIdempotentRebuild(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	source := config.NewMemoryProvider(true)
	source.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block), queryFirewall("b", waf.Prevention, waf.Block)))
	m := newTestManager(t, nil, source)
	require.NoError(t, m.Reload())
	beforeA, _ := m.Model("a")
	beforeB, _ := m.Model("b")

	// Act
	changed := queryFirewall("b", waf.Prevention, waf.Block)
	changed.Rules[0].Conditions[0].String.Values = []string{"2"}
	source.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block), changed))
	require.NoError(t, m.Reload())
	afterA, _ := m.Model("a")
	afterB, _ := m.Model("b")

	// Assert
	assert.Same(beforeA.Evaluator, afterA.Evaluator)
	assert.NotSame(beforeB.Evaluator, afterB.Evaluator)
}

func TestReloadIsAllOrNothing(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	first := config.NewMemoryProvider(true)
	second := config.NewMemoryProvider(true)
	first.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block)))
	second.Update(firewallsDocument(queryFirewall("b", waf.Prevention, waf.Block)))
	m := newTestManager(t, nil, first, second)
	require.NoError(t, m.Reload())
	before, _ := m.Model("a")

	// Act
	first.Update(firewallsDocument(queryFirewall("a", waf.Detection, waf.Block), queryFirewall("c", waf.Prevention, waf.Block)))
	broken := queryFirewall("b", waf.Prevention, waf.Block)
	broken.Rules[0].Conditions[0].String.Selector = ""
	second.Update(firewallsDocument(broken))
	err := m.Reload()

	// Assert
	assert.ErrorContains(err, "requires a selector")
	after, _ := m.Model("a")
	assert.Same(before, after)
	assert.Equal(waf.Prevention, after.Evaluator.Mode)
	_, hasC := m.Model("c")
	assert.False(hasC)
	assert.Equal([]SourceState{Loaded, Loaded}, m.SourceStates())
}

func TestReloadRejectsDuplicateRouteIDs(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	first := config.NewMemoryProvider(true)
	second := config.NewMemoryProvider(true)
	first.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block), queryFirewall("b", waf.Prevention, waf.Block)))
	second.Update(firewallsDocument(queryFirewall("a", waf.Detection, waf.Log), queryFirewall("b", waf.Detection, waf.Log)))
	m := newTestManager(t, nil, first, second)

	// Act
	err := m.Reload()

	// Assert
	assert.Len(multierr.Errors(err), 2)
	assert.ErrorContains(err, `route "a" is configured more than once (config sources 0 and 1)`)
	assert.Empty(m.RouteIDs())
	assert.Equal([]SourceState{Unloaded, Unloaded}, m.SourceStates())
}

func TestReloadAggregatesSourceErrors(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	first := config.NewMemoryProvider(true)
	second := config.NewMemoryProvider(true)
	first.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block)))
	m := newTestManager(t, nil, first, second)
	require.NoError(t, m.Reload())

	// Act
	first.Fail(errors.New("first unavailable"))
	second.Fail(errors.New("second unavailable"))
	err := m.Reload()

	// Assert
	assert.Len(multierr.Errors(err), 2)
	assert.ErrorContains(err, "config source 1: second unavailable")
	assert.Equal([]string{"a"}, m.RouteIDs())
	assert.True(m.polling)
}

func TestReloadRemovesUnconfiguredRoutes(t *testing.T) {
	// Arrange
	source := config.NewMemoryProvider(true)
	source.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block), queryFirewall("b", waf.Prevention, waf.Block)))
	m := newTestManager(t, nil, source)
	require.NoError(t, m.Reload())

	// Act
	source.Update(firewallsDocument(queryFirewall("b", waf.Prevention, waf.Block)))
	err := m.Reload()

	// Assert
	assert.Nil(t, err)
	assert.Equal(t, []string{"b"}, m.RouteIDs())
}

func TestRouteChangeRebuildsOnlyThatRoute(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	routes := config.NewMemoryProvider(true)
	routes.Update(config.Document{Routes: []waf.Route{
		{ID: "a", Path: "/a/", Upstream: "http://127.0.0.1:9001"},
		{ID: "b", Path: "/b/", Upstream: "http://127.0.0.1:9002"},
	}})
	source := config.NewMemoryProvider(true)
	source.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block), queryFirewall("b", waf.Prevention, waf.Block)))
	m := newTestManager(t, routes, source)
	require.NoError(t, m.Reload())
	beforeA, _ := m.Model("a")
	beforeB, _ := m.Model("b")

	// Act
	routes.Update(config.Document{Routes: []waf.Route{
		{ID: "a", Path: "/a/", Upstream: "http://127.0.0.1:9001"},
		{ID: "b", Path: "/b/", Upstream: "http://127.0.0.1:9003"},
	}})
	require.NoError(t, m.Reload())
	afterA, _ := m.Model("a")
	afterB, _ := m.Model("b")

	// Assert
	assert.Same(beforeA, afterA)
	assert.NotSame(beforeB, afterB)
	assert.Equal("http://127.0.0.1:9003", afterB.Route.Upstream)
	assert.Greater(afterB.RouteRevision, beforeB.RouteRevision)
}

func TestOnReloadListeners(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	source := config.NewMemoryProvider(true)
	m := newTestManager(t, nil, source)
	var results []error
	m.OnReload(func(err error) { results = append(results, err) })

	// Act
	m.Reload()
	source.Fail(errors.New("unavailable"))
	m.Reload()

	// Assert
	require.Len(t, results, 2)
	assert.Nil(results[0])
	assert.ErrorContains(results[1], "unavailable")
}

func TestRunReloadsOnChange(t *testing.T) {
	// Arrange
	push := config.NewMemoryProvider(true)
	poll := config.NewMemoryProvider(false)
	m := NewManager(zerolog.Nop(), newTestBuilder(), nil, 20*time.Millisecond, push, poll)
	require.NoError(t, m.Reload())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Act
	push.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block)))
	poll.Update(firewallsDocument(queryFirewall("b", waf.Prevention, waf.Block)))

	// Assert
	assert.Eventually(t, func() bool {
		return len(m.RouteIDs()) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunRecoversFailedPushSourceByPolling(t *testing.T) {
	// Arrange
	push := config.NewMemoryProvider(true)
	push.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block)))
	m := NewManager(zerolog.Nop(), newTestBuilder(), nil, 20*time.Millisecond, push)
	require.NoError(t, m.Reload())
	require.False(t, m.polling)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Act
	push.Fail(errors.New("unavailable"))
	failedOver := assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.polling && len(m.tokens) == 0
	}, 5*time.Second, 5*time.Millisecond)
	push.Update(firewallsDocument(queryFirewall("b", waf.Prevention, waf.Block)))

	// Assert
	assert.True(t, failedOver)
	assert.Eventually(t, func() bool {
		ids := m.RouteIDs()
		return len(ids) == 1 && ids[0] == "b"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return !m.polling
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReadersNeverSeePartialModelsDuringReload(t *testing.T) {
	// Arrange
	prevention := firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block), queryFirewall("b", waf.Prevention, waf.Block))
	detectionA := queryFirewall("a", waf.Detection, waf.Log)
	detectionA.Rules[0].RuleName = "detectRule"
	detectionB := queryFirewall("b", waf.Detection, waf.Log)
	detectionB.Rules[0].RuleName = "detectRule"
	detection := firewallsDocument(detectionA, detectionB)

	source := config.NewMemoryProvider(true)
	source.Update(prevention)
	m := NewManager(zerolog.Nop(), newTestBuilder(), nil, 0, source)
	require.NoError(t, m.Reload())

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				for _, id := range []string{"a", "b"} {
					model, ok := m.Model(id)
					if !assert.True(t, ok) || !assert.NotNil(t, model.Evaluator) {
						return
					}
					assert.Equal(t, model.Config.RouteID, model.Evaluator.RouteID)
					assert.Equal(t, model.Config.Mode, model.Evaluator.Mode)

					match, matched := model.Evaluator.EvaluateRequest(context.Background(), zerolog.Nop(), &mockWafHTTPRequest{uri: "/?a=1"})
					assert.True(t, matched)
					assert.Equal(t, model.Config.Rules[0].RuleName, match.RuleName)
					assert.Equal(t, model.Config.Rules[0].Action, match.Action)
				}
			}
		}()
	}

	// Act
	var reloadErrs []error
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			source.Update(detection)
		} else {
			source.Update(prevention)
		}
		reloadErrs = append(reloadErrs, m.Reload())
	}
	close(done)
	wg.Wait()

	// Assert
	for _, err := range reloadErrs {
		assert.Nil(t, err)
	}
	assert.Equal(t, []string{"a", "b"}, m.RouteIDs())
}

func TestDuplicateRouteIDKeepsFirstRoute(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	routes := config.NewMemoryProvider(true)
	routes.Update(config.Document{Routes: []waf.Route{
		{ID: "a", Path: "/a/", Upstream: "http://127.0.0.1:9001"},
		{ID: "a", Path: "/other/", Upstream: "http://127.0.0.1:9002"},
	}})
	source := config.NewMemoryProvider(true)
	source.Update(firewallsDocument(queryFirewall("a", waf.Prevention, waf.Block)))
	m := newTestManager(t, routes, source)
	require.NoError(t, m.Reload())
	before, _ := m.Model("a")

	// Act
	err := m.Reload()
	after, _ := m.Model("a")

	// Assert
	assert.Nil(err)
	assert.Same(before, after)
	assert.Equal("/a/", after.Route.Path)
	assert.Equal("http://127.0.0.1:9001", after.Route.Upstream)
}

func TestHasChanged(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	model := &RouteFirewallModel{Config: queryFirewall("a", waf.Prevention, waf.Block), RouteRevision: 3}

	// Act & Assert
	assert.False(model.HasChanged(queryFirewall("a", waf.Prevention, waf.Block), 3))
	assert.True(model.HasChanged(queryFirewall("a", waf.Prevention, waf.Block), 4))
	assert.True(model.HasChanged(queryFirewall("a", waf.Detection, waf.Block), 3))
}
