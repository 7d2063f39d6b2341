package bodyparsing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"

	"proxywaf/encoding"
	"proxywaf/waf"

	"github.com/rs/zerolog"
)

const (
	multipartMediaType  = "multipart/form-data"
	urlencodedMediaType = "application/x-www-form-urlencoded"
)

// NewFormParser creates a FormParser that enforces the given length limits while reading.
func NewFormParser(lengthLimits waf.LengthLimits) waf.FormParser {
	return &formParserImpl{
		lengthLimits: lengthLimits,
	}
}

type formParserImpl struct {
	lengthLimits waf.LengthLimits
}

func (f *formParserImpl) LengthLimits() waf.LengthLimits {
	return f.lengthLimits
}

func (f *formParserImpl) Parse(logger zerolog.Logger, contentType string, body io.Reader, cb waf.ParsedBodyFieldCb) (err error) {
	mediatype, mediaTypeParams, _ := mime.ParseMediaType(contentType)
	bodyReaderWithMax := newMaxLengthReaderDecorator(body, f.lengthLimits)

	switch mediatype {
	case multipartMediaType:
		err = f.scanMultipartBody(bodyReaderWithMax, mediaTypeParams["boundary"], cb)

	case urlencodedMediaType:
		err = f.scanUrlencodedBody(bodyReaderWithMax, cb)

	default:
		logger.Debug().Str("contentType", mediatype).Msg("Request body is not a form, no fields parsed")
	}

	if err != nil {
		if waf.IsLengthLimitError(err) {
			return
		}

		err = fmt.Errorf("%v body parsing error: %w", mediatype, err)
		return
	}

	return
}

func (f *formParserImpl) HasFileAttachments(contentType string, body io.Reader) (hasFiles bool, err error) {
	mediatype, mediaTypeParams, _ := mime.ParseMediaType(contentType)
	if mediatype != multipartMediaType {
		return
	}

	bodyReader := newMaxLengthReaderDecorator(body, f.lengthLimits)
	m := multipart.NewReader(bodyReader, mediaTypeParams["boundary"])
	for {
		bodyReader.ResetFieldReadCount()
		var part *multipart.Part
		part, err = m.NextPart()
		if err != nil {
			err = f.nextPartErr(bodyReader, err)
			return
		}

		if part.FileName() != "" {
			hasFiles = true
			return
		}

		// Field content is skipped without being held in memory, but still counts towards the limits.
		_, err = io.Copy(io.Discard, part)
		if err != nil {
			if limitErr := bodyReader.limitErr(); limitErr != nil {
				err = limitErr
			}
			return
		}
	}
}

// IsMultipart reports whether the Content-Type header denotes a multipart form.
func IsMultipart(contentType string) bool {
	mediatype, _, _ := mime.ParseMediaType(contentType)
	return mediatype == multipartMediaType
}

// IsForm reports whether the Content-Type header denotes a body that FormParser can split into fields.
func IsForm(contentType string) bool {
	mediatype, _, _ := mime.ParseMediaType(contentType)
	return mediatype == multipartMediaType || mediatype == urlencodedMediaType
}

// nextPartErr maps a NextPart error to nil at the end of the body, or to the length limit error that caused it.
func (f *formParserImpl) nextPartErr(bodyReader *maxLengthReaderDecorator, err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}

	// NextPart() doesn't return the raw err, but wraps it. Therefore we must check the state of the underlying reader.
	if limitErr := bodyReader.limitErr(); limitErr != nil {
		return limitErr
	}

	// We allow 0 length bodies
	if bodyReader.LastErr == io.EOF && bodyReader.ReadCountTotal == 0 {
		return nil
	}

	return fmt.Errorf("error while reading part headers: %w", err)
}

func (f *formParserImpl) scanMultipartBody(bodyReader *maxLengthReaderDecorator, boundary string, cb waf.ParsedBodyFieldCb) (err error) {
	var buf bytes.Buffer
	m := multipart.NewReader(bodyReader, boundary)
	for {
		bodyReader.ResetFieldReadCount() // Even though the part headers are not strictly a "field", they still may be a significant number of bytes, so we'll treat them as a field.
		var part *multipart.Part
		part, err = m.NextPart()
		if err != nil {
			err = f.nextPartErr(bodyReader, err)
			return
		}

		if part.FileName() != "" {
			// File parts are not fields. They only count towards the total limit and are never buffered.
			bodyReader.PauseCounting = true
			continue
		}

		bodyReader.PauseCounting = false
		bodyReader.ResetFieldReadCount()
		buf.Reset()
		_, err = buf.ReadFrom(part)
		if err != nil {
			if limitErr := bodyReader.limitErr(); limitErr != nil {
				err = limitErr
				return
			}

			err = fmt.Errorf("error while reading part content: %w", err)
			return
		}

		err = cb(waf.MultipartFormDataContent, part.FormName(), buf.String())
		if err != nil {
			return
		}
	}
}

func (f *formParserImpl) scanUrlencodedBody(bodyReader *maxLengthReaderDecorator, cb waf.ParsedBodyFieldCb) (err error) {
	dec := newFormPairReader(bodyReader)
	for {
		bodyReader.ResetFieldReadCount()
		var key, value string
		key, value, err = dec.next()
		if err != nil {
			if err == io.EOF {
				err = nil
			}

			return
		}

		if key == "" && value == "" {
			continue
		}

		err = cb(waf.URLEncodedContent, encoding.WeakURLUnescape(key), encoding.WeakURLUnescape(value))
		if err != nil {
			return
		}
	}
}
