package logging

import (
	"os"
	"path/filepath"
)

// LogFile is the interface to handle log file append
type LogFile interface {
	Append(content []byte) (err error)
	Close() error
}

// LogFileSystem is the interface to handle log file directory creation and file open/append
type LogFileSystem interface {
	MkDir(dirname string) error
	Open(name string) (f LogFile, err error)
}

// NewLogFileSystem returns the LogFileSystem of the local disk.
func NewLogFileSystem() LogFileSystem {
	return &logFileSystemImpl{}
}

type logFileImpl struct {
	f *os.File
}

// Append writes content at the end of the file.
func (lf *logFileImpl) Append(content []byte) (err error) {
	_, err = lf.f.Write(content)
	return
}

func (lf *logFileImpl) Close() error {
	return lf.f.Close()
}

type logFileSystemImpl struct{}

// MkDir creates a directory named path, along with any necessary parents. If path is already a directory, MkDir does nothing.
func (fs *logFileSystemImpl) MkDir(name string) error {
	return os.MkdirAll(name, 0o755)
}

// Open opens the file for appending and creates it if it does not exist.
func (fs *logFileSystemImpl) Open(name string) (lf LogFile, err error) {
	f, err := os.OpenFile(filepath.Clean(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	lf = &logFileImpl{f: f}
	return
}
