package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for retry, propagation and HTTP mapping
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindCredentialsMissing Kind = "credentials_missing"
	KindAuthentication     Kind = "authentication_error"
	KindPermission         Kind = "permission_denied"
	KindNotFound           Kind = "not_found"
	KindRateLimited        Kind = "rate_limited"
	KindTimeout            Kind = "gateway_timeout"
	KindUpstream           Kind = "upstream_error"
	KindUniqueness         Kind = "uniqueness_conflict"
	KindQueueFull          Kind = "queue_full"
	KindInvalidRegion      Kind = "invalid_region"
	KindInvalidPopulation  Kind = "invalid_population"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal_error"
)

// Error is the typed error carried across the token provider, gateway and orchestrator
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCredentialsMissing = &Error{Kind: KindCredentialsMissing}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrPermission         = &Error{Kind: KindPermission}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrUpstream           = &Error{Kind: KindUpstream}
	ErrUniqueness         = &Error{Kind: KindUniqueness}
	ErrQueueFull          = &Error{Kind: KindQueueFull}
	ErrInvalidRegion      = &Error{Kind: KindInvalidRegion}
	ErrInvalidPopulation  = &Error{Kind: KindInvalidPopulation}
	ErrCancelled          = &Error{Kind: KindCancelled}
)

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation creates a validation error with optional details
func Validation(message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message, Details: details}
}

// Wrap attaches a kind and message to an underlying error
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is untyped
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable message of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Details returns the detail list of err, if any
func Details(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Retryable reports whether the caller should retry with backoff
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTimeout, KindUpstream:
		return true
	}
	return false
}

// Fatal reports whether err must terminate the whole session
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindCredentialsMissing, KindAuthentication, KindInvalidRegion:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status returned to the browser
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status >= 400 {
		return e.Status
	}
	switch KindOf(err) {
	case KindValidation, KindInvalidPopulation, KindInvalidRegion:
		return http.StatusBadRequest
	case KindCredentialsMissing, KindAuthentication:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUniqueness:
		return http.StatusConflict
	case KindRateLimited, KindQueueFull:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// KindForStatus classifies a remote HTTP status code
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindUniqueness
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500:
		return KindUpstream
	}
	return KindInternal
}

// FromStatus builds a classified error for a non-2xx remote response
func FromStatus(status int, area Area, detail string) *Error {
	e := &Error{
		Kind:    KindForStatus(status),
		Status:  status,
		Message: FriendlyMessage(status, area),
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		e.Details = []string{detail}
	}
	return e
}
