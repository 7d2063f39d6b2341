package bodyparsing

import (
	"io"

	"proxywaf/waf"
)

// maxLengthReaderDecorator is an io.Reader decorator, which enforces a max number of bytes to be read.
type maxLengthReaderDecorator struct {
	PauseCounting     bool
	Limits            waf.LengthLimits
	ReadCountField    int
	ReadCountPausable int
	ReadCountTotal    int
	LastErr           error
	reader            io.Reader
}

func newMaxLengthReaderDecorator(reader io.Reader, limits waf.LengthLimits) *maxLengthReaderDecorator {
	return &maxLengthReaderDecorator{reader: reader, Limits: limits}
}

// Read behaves like io.Reader.Read, but returns errors on the call after the call where the max number of bytes was exceeded.
// If the PauseCounting flag is set, the bytes read only count towards the total limit.
func (m *maxLengthReaderDecorator) Read(p []byte) (n int, err error) {
	defer func() {
		if err != nil {
			m.LastErr = err
		}
	}()

	if err = m.exceeded(); err != nil {
		return
	}

	n, err = m.reader.Read(p)
	if n > 0 {
		if !m.PauseCounting {
			m.ReadCountPausable += n
			m.ReadCountField += n
		}

		m.ReadCountTotal += n
	}

	return
}

func (m *maxLengthReaderDecorator) exceeded() error {
	switch {
	case m.ReadCountTotal >= m.Limits.MaxLengthTotal:
		return waf.ErrTotalBytesLimitExceeded
	case m.ReadCountPausable >= m.Limits.MaxLengthPausable:
		return waf.ErrPausableBytesLimitExceeded
	case m.ReadCountField >= m.Limits.MaxLengthField:
		return waf.ErrFieldBytesLimitExceeded
	}
	return nil
}

// limitErr returns the length limit error the decorator last hit. Readers layered on top, such as multipart.Reader, wrap or replace the raw error.
func (m *maxLengthReaderDecorator) limitErr() error {
	if waf.IsLengthLimitError(m.LastErr) {
		return m.LastErr
	}
	return nil
}

// ResetFieldReadCount is meant to be called before starting to read a field. It resets the count of many bytes was read for the current field.
func (m *maxLengthReaderDecorator) ResetFieldReadCount() {
	m.ReadCountField = 0
}
