package extract

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL      = errors.New("invalid source url")
	ErrTooLong         = errors.New("source exceeds maximum duration")
	ErrDownloadFailed  = errors.New("download failed")
	ErrTranscodeFailed = errors.New("transcode failed")
)

// Error is the typed failure returned by an Extractor. Kind is one of the
// sentinel errors above and Message is safe to show to clients.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Status returns a short label for err used in metrics and history records.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrTooLong):
		return "too_long"
	case errors.Is(err, ErrTranscodeFailed):
		return "transcode_failed"
	default:
		return "download_failed"
	}
}
