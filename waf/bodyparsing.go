package waf

import (
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// ParsedBodyFieldCb will be called for each parsed form field.
type ParsedBodyFieldCb = func(contentType ContentType, fieldName string, data string) error

// ContentType of the body field being parsed.
type ContentType int

// ContentTypes available.
const (
	_ ContentType = iota
	MultipartFormDataContent
	URLEncodedContent
)

// LengthLimits states limitations we will enforce regarding the lengths of different parts of the request.
type LengthLimits struct {
	MaxLengthField    int // Number of bytes read before returning an error, respecting the PauseCounting flag. The count can be reset whenever a field has been consumed .
	MaxLengthPausable int // Number of bytes read before returning an error, respecting the PauseCounting flag.
	MaxLengthTotal    int // Number of bytes read, ignoring whether the PauseCounting flag was set.
}

// DefaultLengthLimits are used when no limits are configured.
var DefaultLengthLimits = LengthLimits{
	MaxLengthField:    1024 * 20,         // 20 KiB
	MaxLengthPausable: 1024 * 128,        // 128 KiB
	MaxLengthTotal:    1024 * 1024 * 700, // 700 MiB
}

// ErrFieldBytesLimitExceeded is returned when the field length limit was exceeded.
var ErrFieldBytesLimitExceeded = errors.New("field length limit exceeded")

// ErrPausableBytesLimitExceeded is returned when the request length limit was exceeded.
var ErrPausableBytesLimitExceeded = errors.New("request length limit exceeded")

// ErrTotalBytesLimitExceeded is returned when the total request length limit was exceeded.
var ErrTotalBytesLimitExceeded = errors.New("total request length limit exceeded")

// IsLengthLimitError reports whether err is one of the length limit errors.
func IsLengthLimitError(err error) bool {
	return errors.Is(err, ErrFieldBytesLimitExceeded) || errors.Is(err, ErrPausableBytesLimitExceeded) || errors.Is(err, ErrTotalBytesLimitExceeded)
}

// FormParser parses form encoded request bodies into individual fields.
type FormParser interface {
	// Parse calls cb once for every non-file field of a urlencoded or multipart body. Other content types yield no fields.
	Parse(logger zerolog.Logger, contentType string, body io.Reader, cb ParsedBodyFieldCb) error
	// HasFileAttachments reports whether a multipart body carries at least one file part.
	HasFileAttachments(contentType string, body io.Reader) (bool, error)
	LengthLimits() LengthLimits
}
