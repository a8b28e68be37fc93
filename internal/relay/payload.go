package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// MaxPayloadBytes is the default bound on a serialized payload
const MaxPayloadBytes = 100000

// PayloadErrorKind tells why a payload was refused
type PayloadErrorKind int

const (
	NotAnObject PayloadErrorKind = iota
	TooLarge
)

// PayloadError is returned by the payload guard
type PayloadError struct {
	Kind  PayloadErrorKind
	Limit int
}

func (e *PayloadError) Error() string {
	if e.Kind == TooLarge {
		return fmt.Sprintf("Payload size exceeds maximum limit of %dKB", e.Limit/1000)
	}
	return "Payload must be a valid object"
}

// PayloadGuard bounds the size and shape of relayed payloads
type PayloadGuard struct {
	MaxBytes int
}

// Validate accepts only a JSON object whose compact form fits in MaxBytes.
func (g PayloadGuard) Validate(payload json.RawMessage) error {
	limit := g.MaxBytes
	if limit <= 0 {
		limit = MaxPayloadBytes
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return &PayloadError{Kind: NotAnObject, Limit: limit}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return &PayloadError{Kind: NotAnObject, Limit: limit}
	}
	if compact.Len() > limit {
		return &PayloadError{Kind: TooLarge, Limit: limit}
	}
	return nil
}

// DecodePayload checks that body is well-formed JSON and returns its
// compact form, which is what gets forwarded and logged.
func DecodePayload(body []byte) (json.RawMessage, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, bytes.TrimSpace(body)); err != nil {
		return nil, err
	}
	if compact.Len() == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return json.RawMessage(compact.Bytes()), nil
}

// QueryPayload turns query parameters into a flat JSON object. A repeated
// key keeps its last value.
func QueryPayload(query url.Values) (json.RawMessage, error) {
	params := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) == 0 {
			continue
		}
		params[key] = values[len(values)-1]
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func isEmptyObject(payload json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(payload), []byte("{}"))
}
