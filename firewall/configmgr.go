package firewall

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"proxywaf/config"
	"proxywaf/customrule"
	"proxywaf/waf"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is how often sources without push notifications, or whose last load failed, are re-read.
const DefaultPollInterval = 5 * time.Minute

// SourceState is the load state of one config source.
type SourceState int

// Source states.
const (
	Unloaded SourceState = iota
	Loaded
	Reloading
)

func (s SourceState) String() string {
	switch s {
	case Loaded:
		return "Loaded"
	case Reloading:
		return "Reloading"
	}
	return "Unloaded"
}

// Manager merges the firewall configs of all sources and keeps one compiled model per route.
// A reload cycle is applied completely or not at all.
type Manager struct {
	logger       zerolog.Logger
	builder      *customrule.EvaluatorBuilder
	sources      []waf.ConfigProvider
	routeSource  waf.RouteSource
	pollInterval time.Duration

	models sync.Map // route id -> *RouteFirewallModel

	// mu serializes reload cycles and guards the fields below.
	mu             sync.Mutex
	states         []SourceState
	routeTable     map[string]waf.Route
	routeRevisions map[string]int64
	revision       int64
	tokens         []waf.ChangeToken
	polling        bool
	listeners      []func(error)
}

// NewManager creates a manager over the given sources. routeSource may be nil when no proxy route table is available.
func NewManager(logger zerolog.Logger, builder *customrule.EvaluatorBuilder, routeSource waf.RouteSource, pollInterval time.Duration, sources ...waf.ConfigProvider) *Manager {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Manager{
		logger:         logger,
		builder:        builder,
		sources:        sources,
		routeSource:    routeSource,
		pollInterval:   pollInterval,
		states:         make([]SourceState, len(sources)),
		routeTable:     make(map[string]waf.Route),
		routeRevisions: make(map[string]int64),
		polling:        true,
	}
}

// Model returns the published model of a route. It never blocks on a reload in progress.
func (m *Manager) Model(routeID string) (model *RouteFirewallModel, ok bool) {
	v, ok := m.models.Load(routeID)
	if !ok {
		return
	}
	model = v.(*RouteFirewallModel)
	return
}

// RouteIDs returns the ids of all routes that have a published model, sorted.
func (m *Manager) RouteIDs() (ids []string) {
	m.models.Range(func(k, _ interface{}) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return
}

// SourceStates returns the load state of every source, in source order.
func (m *Manager) SourceStates() []SourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SourceState(nil), m.states...)
}

// OnReload registers a listener that is called after every reload cycle with the cycle's error, or nil.
func (m *Manager) OnReload(listener func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Reload runs one reload cycle. On error the previously published models stay in place.
func (m *Manager) Reload() (err error) {
	m.mu.Lock()
	err = m.reloadLocked()
	listeners := append(([]func(error))(nil), m.listeners...)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error().Err(err).Msg("Firewall config reload rejected, keeping the previous configuration")
	}

	for _, l := range listeners {
		l(err)
	}
	return
}

func (m *Manager) reloadLocked() (err error) {
	for i, s := range m.states {
		if s == Loaded {
			m.states[i] = Reloading
		}
	}

	snapshots, loadErrs := m.loadSources()

	m.tokens = m.tokens[:0]
	m.polling = false
	for i, snapshot := range snapshots {
		if loadErrs[i] != nil {
			m.polling = true
			err = multierr.Append(err, fmt.Errorf("config source %v: %w", i, loadErrs[i]))
			continue
		}
		m.tokens = append(m.tokens, snapshot.ChangeToken)
		if !config.SupportsPush(snapshot.ChangeToken) {
			m.polling = true
		}
	}

	m.refreshRoutes()

	defer func() {
		for i, s := range m.states {
			switch {
			case err == nil:
				m.states[i] = Loaded
			case s == Reloading:
				m.states[i] = Loaded
			}
		}
	}()

	if err != nil {
		return
	}

	configs, err := m.merge(snapshots)
	if err != nil {
		return
	}

	for _, c := range configs {
		err = multierr.Append(err, m.builder.Validate(c))
	}
	if err != nil {
		return
	}

	// Build everything before publishing anything.
	rebuilt := make(map[string]*RouteFirewallModel)
	for id, c := range configs {
		revision := m.routeRevisions[id]
		if existing, ok := m.Model(id); ok && !existing.HasChanged(c, revision) {
			continue
		}

		route, known := m.routeTable[id]
		if !known {
			route = waf.Route{ID: id}
			if m.routeSource != nil {
				m.logger.Warn().Str("routeId", id).Msg("Firewall config references a route that is not in the route table")
			}
		}

		evaluator, buildErr := m.builder.Build(c, route)
		if buildErr != nil {
			err = multierr.Append(err, buildErr)
			continue
		}

		rebuilt[id] = &RouteFirewallModel{Config: c, Route: route, RouteRevision: revision, Evaluator: evaluator}
	}
	if err != nil {
		return
	}

	for id, model := range rebuilt {
		m.models.Store(id, model)
	}

	removed := 0
	m.models.Range(func(k, _ interface{}) bool {
		if _, ok := configs[k.(string)]; !ok {
			m.models.Delete(k)
			removed++
		}
		return true
	})

	m.logger.Info().
		Int("routes", len(configs)).
		Int("rebuilt", len(rebuilt)).
		Int("removed", removed).
		Msg("Firewall config reloaded")
	return
}

// loadSources fetches all snapshots concurrently.
func (m *Manager) loadSources() (snapshots []waf.ConfigSnapshot, errs []error) {
	snapshots = make([]waf.ConfigSnapshot, len(m.sources))
	errs = make([]error, len(m.sources))

	var g errgroup.Group
	for i, source := range m.sources {
		i, source := i, source
		g.Go(func() error {
			snapshots[i], errs[i] = source.GetConfig()
			return nil
		})
	}
	g.Wait()
	return
}

// merge collects the firewall configs of all sources by route id. A route id configured twice fails the cycle.
func (m *Manager) merge(snapshots []waf.ConfigSnapshot) (configs map[string]waf.RouteFirewallConfig, err error) {
	configs = make(map[string]waf.RouteFirewallConfig)
	origin := make(map[string]int)
	for i, snapshot := range snapshots {
		for _, c := range snapshot.RouteFirewalls {
			if first, dup := origin[c.RouteID]; dup {
				err = multierr.Append(err, fmt.Errorf("route %q is configured more than once (config sources %v and %v)", c.RouteID, first, i))
				continue
			}
			origin[c.RouteID] = i
			configs[c.RouteID] = c
		}
	}
	return
}

// refreshRoutes reads the proxy route table and gives every new or changed route a new revision.
// Only the first route with a given id is used.
func (m *Manager) refreshRoutes() {
	if m.routeSource == nil {
		return
	}

	routes, token := m.routeSource.Routes()
	m.tokens = append(m.tokens, token)
	if !config.SupportsPush(token) {
		m.polling = true
	}

	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if seen[r.ID] {
			m.logger.Error().Str("routeId", r.ID).Str("path", r.Path).Msg("Route skipped, its id is already used by another route")
			continue
		}
		seen[r.ID] = true
		if old, ok := m.routeTable[r.ID]; ok && old == r {
			continue
		}
		m.revision++
		m.routeTable[r.ID] = r
		m.routeRevisions[r.ID] = m.revision
	}

	for id := range m.routeTable {
		if !seen[id] {
			m.revision++
			delete(m.routeTable, id)
			m.routeRevisions[id] = m.revision
		}
	}
}

// Run reloads whenever a source or the route table signals a change until ctx is done. Sources without push support,
// and sources whose last load failed, are polled.
func (m *Manager) Run(ctx context.Context) {
	for {
		m.mu.Lock()
		tokens := append([]waf.ChangeToken(nil), m.tokens...)
		polling := m.polling
		m.mu.Unlock()

		var poll time.Duration
		if polling {
			poll = m.pollInterval
		}

		if !config.WaitForChange(ctx, tokens, poll) {
			return
		}

		m.Reload()
	}
}
