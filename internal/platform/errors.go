package platform

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthentication
	KindExternalAPI
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindExternalAPI:
		return "external_api"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is returned by adapters and the registry. Match categories with
// errors.Is against the Err* sentinels.
type Error struct {
	Kind       Kind
	Platform   string
	Message    string
	StatusCode int
	Err        error
}

var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrExternalAPI    = &Error{Kind: KindExternalAPI}
	ErrNotFound       = &Error{Kind: KindNotFound}
)

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels (errors with no message) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func Validation(platform, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

func Authentication(platform, message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Platform: platform, Message: message, Err: err}
}

func ExternalAPI(platform string, statusCode int, message string, err error) *Error {
	return &Error{Kind: KindExternalAPI, Platform: platform, StatusCode: statusCode, Message: message, Err: err}
}

func NotFound(platform, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// RejectedCode turns a 4xx answer to an authorization code or refresh token
// exchange into an authentication error. Other errors pass through.
func RejectedCode(platform string, err error) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindExternalAPI && pe.StatusCode >= 400 && pe.StatusCode < 500 {
		return &Error{Kind: KindAuthentication, Platform: platform, Message: pe.Message, StatusCode: pe.StatusCode}
	}
	return err
}

// Retryable reports whether a later attempt could succeed. Only destination
// outages and rejections qualify; validation, authentication and unknown
// destinations are final.
func Retryable(err error) bool {
	return err != nil && errors.Is(err, ErrExternalAPI)
}
