package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for calls that can never be sent: a bad
// fields or subrequests parameter, or a script URL over the length limit.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrClosed is returned by Enqueue once the client is closed.
var ErrClosed = errors.New("api client closed")

const TypeTransportError = "transport_error"

// Error is an error object as returned by the API. Network and decoding
// failures are reported with the same shape, Code 500 and Type
// "transport_error", so callers handle both the same way.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *Error) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// IsTransportError reports whether err is a synthetic transport error.
func IsTransportError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == TypeTransportError
}

func transportError(format string, args ...any) *Error {
	return &Error{
		Code:    500,
		Message: fmt.Sprintf(format, args...),
		Type:    TypeTransportError,
	}
}

// parseError decodes the value of an "error" key. The API sends an object;
// OAuth style endpoints send a bare string.
func parseError(raw json.RawMessage) *Error {
	var e Error
	if err := json.Unmarshal(raw, &e); err == nil {
		if e.Message == "" && e.Type == "" && e.Code == 0 {
			return transportError("empty error object")
		}
		return &e
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return &Error{Code: 400, Message: s, Type: s}
	}
	return transportError("malformed error object: %s", string(raw))
}
