package config

import (
	"sync"

	"proxywaf/waf"
)

// MemoryProvider is a config source held in memory. Updates fire the change token of the previous snapshot, unless the
// provider was created without push support, in which case consumers have to poll.
type MemoryProvider struct {
	mu      sync.Mutex
	push    bool
	doc     Document
	loadErr error
	token   *ChannelToken
}

// NewMemoryProvider creates an empty in-memory source.
func NewMemoryProvider(push bool) *MemoryProvider {
	return &MemoryProvider{push: push, token: NewChannelToken()}
}

// GetConfig implements waf.ConfigProvider.
func (p *MemoryProvider) GetConfig() (snapshot waf.ConfigSnapshot, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loadErr != nil {
		err = p.loadErr
		return
	}

	snapshot = p.doc.Snapshot(p.changeToken())
	return
}

// Routes implements waf.RouteSource.
func (p *MemoryProvider) Routes() ([]waf.Route, waf.ChangeToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Routes, p.changeToken()
}

// Update replaces the content of the source.
func (p *MemoryProvider) Update(doc Document) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.loadErr = nil
	p.rotate()
}

// Fail makes GetConfig return err until the next Update.
func (p *MemoryProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadErr = err
	p.rotate()
}

func (p *MemoryProvider) changeToken() waf.ChangeToken {
	if !p.push {
		return PollingToken
	}
	return p.token
}

func (p *MemoryProvider) rotate() {
	old := p.token
	p.token = NewChannelToken()
	old.Signal()
}
