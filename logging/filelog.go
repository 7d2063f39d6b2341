package logging

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"proxywaf/waf"

	"github.com/rs/zerolog"
)

// FileResultsLogger writes one JSON line per triggered rule to a file.
type FileResultsLogger struct {
	file         LogFile
	logger       zerolog.Logger
	writelogline chan []byte
	writeDone    chan bool
	closeOnce    sync.Once
	mu           sync.RWMutex
	closed       bool
}

// NewFileResultsLogger opens path for appending, creating its directory if needed.
func NewFileResultsLogger(fileSystem LogFileSystem, path string, logger zerolog.Logger) (r *FileResultsLogger, err error) {
	if err = fileSystem.MkDir(filepath.Dir(path)); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to create the directory while initializing")
		return
	}

	file, err := fileSystem.Open(path)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("Failed to open the file at initiation")
		return
	}

	r = &FileResultsLogger{
		file:         file,
		logger:       logger,
		writelogline: make(chan []byte),
		writeDone:    make(chan bool),
	}

	go func() {
		for v := range r.writelogline {
			if err := r.file.Append(append(v, '\n')); err != nil {
				r.logger.Error().Err(err).Msg("Error while writing results log")
			}
			r.writeDone <- true
		}
	}()

	return
}

// RuleTriggered implements waf.ResultsLogger.
func (l *FileResultsLogger) RuleTriggered(rec waf.AuditRecord) {
	bb, err := json.Marshal(newCustomerFirewallLogEntry(rec))
	if err != nil {
		l.logger.Error().Err(err).Msg("Error while marshaling JSON results log")
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	l.writelogline <- bb
	<-l.writeDone
}

// Close stops the writer and closes the file. Results logged afterwards are dropped.
func (l *FileResultsLogger) Close() (err error) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.writelogline)
		l.mu.Unlock()
		err = l.file.Close()
	})
	return
}

// MultiResultsLogger fans audit records out to several results loggers.
type MultiResultsLogger []waf.ResultsLogger

// RuleTriggered implements waf.ResultsLogger.
func (m MultiResultsLogger) RuleTriggered(rec waf.AuditRecord) {
	for _, l := range m {
		l.RuleTriggered(rec)
	}
}
