package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"proxywaf/waf"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileProvider is a config source backed by a YAML file. Its change tokens fire when the file is written, replaced or
// removed. When the file cannot be watched the tokens never fire and consumers fall back to polling.
type FileProvider struct {
	path   string
	logger zerolog.Logger

	mu      sync.Mutex
	token   *ChannelToken
	watcher *fsnotify.Watcher
	routes  []waf.Route
}

// NewFileProvider creates a source for the YAML file at path. The file does not have to exist yet.
func NewFileProvider(logger zerolog.Logger, path string) (p *FileProvider, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	p = &FileProvider{
		path:   abs,
		logger: logger.With().Str("configFile", abs).Logger(),
	}
	return
}

// Path is the absolute path of the file.
func (p *FileProvider) Path() string {
	return p.path
}

// GetConfig implements waf.ConfigProvider. The file is re-read on every call.
func (p *FileProvider) GetConfig() (snapshot waf.ConfigSnapshot, err error) {
	token := p.changeToken()

	doc, err := p.read()
	if err != nil {
		return
	}

	snapshot = doc.Snapshot(token)
	return
}

// Routes implements waf.RouteSource. If the file cannot be read, the routes of the last good read are returned.
func (p *FileProvider) Routes() ([]waf.Route, waf.ChangeToken) {
	token := p.changeToken()

	doc, err := p.read()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.logger.Warn().Err(err).Msg("Could not read routes, keeping the previous route table")
	} else {
		p.routes = doc.Routes
	}
	return p.routes, token
}

// Close stops watching the file. Outstanding change tokens fire.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

func (p *FileProvider) read() (doc Document, err error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return
	}

	doc, err = ParseDocument(data)
	if err != nil {
		err = fmt.Errorf("%v: %w", p.path, err)
	}
	return
}

// changeToken returns the token of the current file generation. One watcher serves all consumers until it fires.
// The token is taken before the file is read, so a write racing with the read still fires it.
func (p *FileProvider) changeToken() waf.ChangeToken {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != nil && !p.token.Fired() {
		return p.token
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn().Err(err).Msg("Cannot watch config file, changes will be polled")
		return PollingToken
	}

	// Watching the directory catches editors that replace the file by renaming a new one over it.
	if err = w.Add(filepath.Dir(p.path)); err != nil {
		w.Close()
		p.logger.Warn().Err(err).Msg("Cannot watch config file, changes will be polled")
		return PollingToken
	}

	token := NewChannelToken()
	p.token = token
	p.watcher = w
	go p.watch(w, token)
	return token
}

func (p *FileProvider) watch(w *fsnotify.Watcher, token *ChannelToken) {
	defer token.Signal()
	defer w.Close()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != p.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				p.logger.Debug().Str("op", ev.Op.String()).Msg("Config file changed")
				return
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			// Events may have been lost, so treat this as a change.
			p.logger.Warn().Err(err).Msg("Error while watching config file")
			return
		}
	}
}
