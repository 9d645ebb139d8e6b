package servicenow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError reports a client that cannot perform an operation
// because of how it was constructed. It is returned before any network call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "servicenow: " + e.Reason
}

// ErrCredentialsNotSet is returned by every network operation of an
// [Instance] constructed without credentials.
var ErrCredentialsNotSet = &ConfigurationError{Reason: "credentials not set"}

// ErrNoResult is returned when a lookup response has no "result" field.
var ErrNoResult = errors.New("response has no result field")

// HTTPError is returned by [Instance.Request] for any non-2xx response.
// Network-level failures are not wrapped in an HTTPError; they are returned
// exactly as the HTTP client produced them.
type HTTPError struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("servicenow: HTTP %d %s", e.StatusCode, e.StatusText)
	if detail := e.Message(); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// Message returns error.message from a ServiceNow error body, if present.
func (e *HTTPError) Message() string {
	var er errorResponse
	if err := json.Unmarshal(e.Body, &er); err != nil {
		return ""
	}
	return er.Error.Message
}

// IsNotFound reports whether err is an HTTPError with status 404, which is
// what ServiceNow returns for an unknown table or sys_id.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}
