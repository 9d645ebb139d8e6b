package servicenow

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Credentials holds the username/password pair used for HTTP Basic auth.
// Only username and password are supported.
type Credentials struct {
	Username string
	Password string
}

// Record represents a single ServiceNow table record as a map of field names to values.
type Record map[string]any

// Response is the envelope returned by [Instance.Request]. Body holds the
// response payload after any deflate/gzip content decoding; Header is the
// header set exactly as the instance sent it.
type Response struct {
	StatusCode int
	Status     string // status text, e.g. "OK"
	Header     http.Header
	Body       []byte
}

// Object decodes the body and reports whether it is a JSON object.
// Empty bodies, null, scalars, arrays and invalid JSON all report false.
func (r *Response) Object() (map[string]any, bool) {
	if r == nil || len(r.Body) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// Result extracts the raw "result" field of the body.
//
//	{"result": {...}}
func (r *Response) Result() (json.RawMessage, error) {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w (body: %.200s)", err, string(r.Body))
	}
	if env.Result == nil {
		return nil, ErrNoResult
	}
	return env.Result, nil
}

// errorResponse represents a ServiceNow API error response body.
//
//	{"error": {"message": "No Record found", "detail": "..."}, "status": "failure"}
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}
