package geodb

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"proxywaf/config"
	"proxywaf/waf"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// DefaultPollInterval is how often sources without push notifications are re-read.
const DefaultPollInterval = 5 * time.Minute

// ErrNoDatabaseConfigured is returned when no config source names a GeoIP database.
var ErrNoDatabaseConfigured = errors.New("no config source names a GeoIP database")

// OpenFunc opens a country database file.
type OpenFunc func(path string) (waf.CountryDB, error)

// Factory owns the current GeoIP database and replaces it when the configured path changes.
type Factory struct {
	logger       zerolog.Logger
	sources      []waf.ConfigProvider
	open         OpenFunc
	pollInterval time.Duration

	// mu serializes opening and replacing. Readers only touch current.
	mu      sync.Mutex
	current atomic.Pointer[Provider]
	lastErr error
	tokens  []waf.ChangeToken
	polling bool
	// checked is set once the sources were read, so that GetCurrent does not re-read them while there is no database.
	checked bool
}

// NewFactory creates a factory over the given config sources. The first source naming a usable database wins.
func NewFactory(logger zerolog.Logger, open OpenFunc, pollInterval time.Duration, sources ...waf.ConfigProvider) *Factory {
	if open == nil {
		open = OpenCountryDB
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Factory{
		logger:       logger,
		sources:      sources,
		open:         open,
		pollInterval: pollInterval,
	}
}

// GetCurrent returns the current provider, opening the database on first use. While there is no database the
// outcome of the last reload is returned without re-reading the sources.
func (f *Factory) GetCurrent() (p *Provider, err error) {
	if p = f.current.Load(); p != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p = f.current.Load(); p != nil {
		return
	}

	if !f.checked {
		f.reloadLocked()
	}

	if p = f.current.Load(); p == nil {
		err = f.lastErr
		if err == nil {
			err = ErrNoDatabaseConfigured
		}
	}
	return
}

// Reload re-reads the sources. A changed path is opened before the old database is disposed, and a path that fails
// to open leaves the old database in place. So does a source that fails to load.
func (f *Factory) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloadLocked()
}

func (f *Factory) reloadLocked() (err error) {
	paths, tokens, polling, loadErr := f.configuredPaths()
	f.tokens, f.polling = tokens, polling
	f.checked = true
	defer func() {
		if err != nil {
			// Failed opens are retried on the poll interval even when every source can push.
			f.polling = true
		}
	}()

	cur := f.current.Load()
	if loadErr != nil && cur != nil {
		// An unreadable source may name the current database or one it prefers.
		f.lastErr = loadErr
		err = loadErr
		return
	}

	if len(paths) == 0 {
		f.lastErr = multierr.Append(ErrNoDatabaseConfigured, loadErr)
		if loadErr != nil {
			err = f.lastErr
			return
		}

		if old := f.current.Swap(nil); old != nil {
			f.logger.Info().Str("path", old.Path()).Msg("GeoIP database no longer configured")
			old.Dispose()
		}
		return
	}

	if cur != nil && cur.Path() == paths[0] {
		f.lastErr = nil
		return
	}

	var openErr error
	for _, path := range paths {
		if cur != nil && cur.Path() == path {
			// Every path before this one failed to open, and this one is already current.
			f.lastErr = openErr
			err = openErr
			return
		}

		db, dbErr := f.open(path)
		if dbErr != nil {
			f.logger.Warn().Err(dbErr).Str("path", path).Msg("Could not open GeoIP database")
			openErr = multierr.Append(openErr, dbErr)
			continue
		}

		next := newProvider(f.logger, path, db)
		f.current.Store(next)
		f.logger.Info().Str("path", path).Str("databaseType", db.DatabaseType()).Msg("GeoIP database loaded")
		if cur != nil {
			cur.Dispose()
		}

		// With no database yet, the readable sources are better than none. The failure is still reported.
		f.lastErr = loadErr
		err = loadErr
		return
	}

	f.lastErr = multierr.Append(loadErr, openErr)
	err = f.lastErr
	return
}

// configuredPaths collects the database path of every source in order, along with the change tokens to wait on.
func (f *Factory) configuredPaths() (paths []string, tokens []waf.ChangeToken, polling bool, err error) {
	for i, source := range f.sources {
		snapshot, loadErr := source.GetConfig()
		if loadErr != nil {
			err = multierr.Append(err, fmt.Errorf("config source %v: %w", i, loadErr))
			polling = true
			continue
		}

		tokens = append(tokens, snapshot.ChangeToken)
		if !config.SupportsPush(snapshot.ChangeToken) {
			polling = true
		}

		if ext, ok := waf.GetExtension[waf.GeoIPExtension](snapshot.Extensions); ok && ext.DatabasePath != "" {
			paths = append(paths, ext.DatabasePath)
		}
	}
	return
}

// Run reloads whenever a source signals a change, polling sources that cannot push or failed to load, until ctx is done.
func (f *Factory) Run(ctx context.Context) {
	for {
		f.mu.Lock()
		tokens, polling := f.tokens, f.polling
		if tokens == nil {
			polling = true
		}
		f.mu.Unlock()

		var poll time.Duration
		if polling {
			poll = f.pollInterval
		}

		if !config.WaitForChange(ctx, tokens, poll) {
			return
		}

		if err := f.Reload(); err != nil {
			f.logger.Warn().Err(err).Msg("GeoIP database reload failed")
		}
	}
}

// ResolveCountry implements waf.CountryResolver. The database is held only for the duration of the lookup.
func (f *Factory) ResolveCountry(addr netip.Addr) (country waf.Country, found bool, err error) {
	// A reader can race with a reload that disposes the provider it just loaded. Retry with the new one.
	for attempt := 0; attempt < 3; attempt++ {
		var p *Provider
		if p, err = f.GetCurrent(); err != nil {
			return
		}

		db, release, acquireErr := p.Acquire()
		if acquireErr != nil {
			err = acquireErr
			continue
		}

		country, found, err = db.LookupCountry(addr)
		release()
		return
	}
	return
}

// Ready implements waf.CountryResolver.
func (f *Factory) Ready() error {
	_, err := f.GetCurrent()
	return err
}

// Close disposes the current database.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = false
	if old := f.current.Swap(nil); old != nil {
		old.Dispose()
	}
}
