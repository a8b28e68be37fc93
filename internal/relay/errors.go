package relay

import (
	"errors"
	"net/http"
)

// Kind classifies a relay failure
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindInvalidJSON
	KindPayloadTooLarge
	KindPayloadNotObject
	KindUnsafeDestination
	KindNoActiveConfig
	KindUpstreamError
	KindUpstreamTimeout
	KindMethodNotAllowed
)

var kindNames = map[Kind]string{
	KindInternal:          "internal",
	KindUnauthorized:      "unauthorized",
	KindInvalidJSON:       "invalid_json",
	KindPayloadTooLarge:   "payload_too_large",
	KindPayloadNotObject:  "payload_not_object",
	KindUnsafeDestination: "unsafe_destination",
	KindNoActiveConfig:    "no_active_config",
	KindUpstreamError:     "upstream_error",
	KindUpstreamTimeout:   "upstream_timeout",
	KindMethodNotAllowed:  "method_not_allowed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Status maps the kind to the HTTP status returned to the caller.
// KindUpstreamError has no fixed status: the destination's is mirrored.
func (k Kind) Status() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidJSON, KindPayloadTooLarge, KindPayloadNotObject, KindUnsafeDestination:
		return http.StatusBadRequest
	case KindNoActiveConfig:
		return http.StatusNotFound
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Error is a relay failure with a message safe to show to the caller
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return KindInternal
}

const (
	msgAuthorizationRequired = "Authorization required"
	msgInvalidAuthorization  = "Invalid authorization"
	msgInvalidJSON           = "Invalid JSON in request body"
	msgUnsafeDestination     = "Invalid webhook URL configuration. URLs pointing to localhost, private networks, or metadata endpoints are not allowed."
	msgNoActiveConfigSend    = "No active webhook configuration found. Please configure your webhook in Settings."
	msgNoActiveConfigReceive = "No active webhook configuration found"
)
