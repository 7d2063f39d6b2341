package geodb

import (
	"errors"
	"sync/atomic"

	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// ErrProviderDisposed is returned by Acquire once the database of a provider has been closed.
var ErrProviderDisposed = errors.New("GeoIP database provider was disposed")

// Provider owns one opened country database and lends it out to readers.
// The database is closed once disposal was requested and the last reader released it.
type Provider struct {
	db     waf.CountryDB
	path   string
	logger zerolog.Logger

	// refs is the number of readers holding the database, or -1 once it was closed.
	refs             atomic.Int64
	disposeRequested atomic.Bool
	done             chan struct{}
}

func newProvider(logger zerolog.Logger, path string, db waf.CountryDB) *Provider {
	return &Provider{
		db:     db,
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Path is the file the database was opened from.
func (p *Provider) Path() string {
	return p.path
}

// Acquire borrows the database. Every successful Acquire must be paired with one call of the returned release func.
func (p *Provider) Acquire() (db waf.CountryDB, release func(), err error) {
	for {
		n := p.refs.Load()
		if n < 0 {
			err = ErrProviderDisposed
			return
		}
		if p.refs.CompareAndSwap(n, n+1) {
			break
		}
	}

	var released atomic.Bool
	release = func() {
		if released.Swap(true) {
			return
		}
		if p.refs.Add(-1) == 0 && p.disposeRequested.Load() {
			p.tryClose()
		}
	}

	db = p.db
	return
}

// Dispose requests that the database is closed. Readers that still hold it keep it open until they release it.
func (p *Provider) Dispose() {
	p.disposeRequested.Store(true)
	p.tryClose()
}

// Done is closed once the database was physically closed.
func (p *Provider) Done() <-chan struct{} {
	return p.done
}

// References is the number of readers currently holding the database.
func (p *Provider) References() int64 {
	if n := p.refs.Load(); n > 0 {
		return n
	}
	return 0
}

// tryClose closes the database if nobody holds it. Only the caller that moves refs from 0 to -1 closes.
func (p *Provider) tryClose() {
	if !p.refs.CompareAndSwap(0, -1) {
		return
	}

	if err := p.db.Close(); err != nil {
		p.logger.Warn().Err(err).Str("path", p.path).Msg("Error while closing GeoIP database")
	} else {
		p.logger.Info().Str("path", p.path).Msg("GeoIP database closed")
	}
	close(p.done)
}
