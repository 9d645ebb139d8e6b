// Package servicenow provides the HTTP client for a single ServiceNow
// instance's REST API.
//
// # Client Architecture
//
// An [Instance] is identified by its host name and talks to
//
//	https://{hostName}.service-now.com/
//
// Every operation is one authenticated GET built on [Instance.Request]:
//
//	┌──────────────────┬─────────────────────────────────────┬──────────────┐
//	│ Operation        │ Path                                │ Returns      │
//	├──────────────────┼─────────────────────────────────────┼──────────────┤
//	│ IsUp             │ api/now/timeago/absolute            │ body is {}   │
//	│ GetRecord        │ api/now/table/{table}/{id}          │ result       │
//	│ GetSchema        │ api/now/doc/table/schema/{table}    │ result       │
//	│ GetMetadata      │ api/now/ui/meta/{table}             │ result       │
//	│ QueryRecords     │ api/now/table/{table}?sysparm_...   │ result       │
//	└──────────────────┴─────────────────────────────────────┴──────────────┘
//
// There is no retry, pagination or caching: one call is one round trip.
//
// # Errors
//
// Request fails fast with [ErrCredentialsNotSet] when the instance has no
// credentials. A non-2xx response yields an [*HTTPError]; a network failure
// is returned exactly as the underlying [Doer] produced it. Failures are
// logged once at Warn in Request and never swallowed.
//
// # Thread Safety
//
// An Instance is immutable after construction and safe for concurrent use.
package servicenow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/RaikaSurendra/servicenow-instance/internal/observability"
)

const (
	timeAgoPath     = "api/now/timeago/absolute"
	tableAPIPath    = "api/now/table"
	schemaAPIPath   = "api/now/doc/table/schema"
	metadataAPIPath = "api/now/ui/meta"
)

// Doer sends HTTP requests. *http.Client satisfies it; tests substitute
// their own implementation.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Instance models a ServiceNow instance.
type Instance struct {
	hostName    string
	credentials *Credentials
	auth        Authenticator
	http        Doer
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option is a functional option for configuring an Instance.
type Option func(*Instance)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(d Doer) Option {
	return func(in *Instance) {
		if d != nil {
			in.http = d
		}
	}
}

// WithTimeout bounds each request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(in *Instance) {
		in.timeout = d
	}
}

// WithRateLimiter sets a client-side rate limiter.
func WithRateLimiter(rps float64) Option {
	return func(in *Instance) {
		if rps > 0 {
			in.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps)))
		}
	}
}

// NewInstance creates a client for the instance with the given host name.
// creds may be nil, in which case every network operation returns
// [ErrCredentialsNotSet]. Neither argument is validated and no network
// call is made.
func NewInstance(hostName string, creds *Credentials, logger *slog.Logger, opts ...Option) *Instance {
	if logger == nil {
		logger = slog.Default()
	}
	in := &Instance{
		hostName:    hostName,
		credentials: creds,
		logger:      logger.With("component", "sn-instance", "instance", hostName),
	}
	if creds != nil {
		in.auth = NewBasicAuthenticator(creds.Username, creds.Password)
	}

	for _, opt := range opts {
		opt(in)
	}
	if in.http == nil {
		in.http = &http.Client{}
	}
	return in
}

// HostName returns the host name the instance was created with.
func (in *Instance) HostName() string {
	return in.hostName
}

// Credentials returns the stored credentials, or nil.
func (in *Instance) Credentials() *Credentials {
	return in.credentials
}

// BaseURL returns https://{hostName}.service-now.com/.
func (in *Instance) BaseURL() string {
	return "https://" + in.hostName + ".service-now.com/"
}

// Request issues an authenticated GET to {BaseURL}{path} and returns the
// full response envelope. path is relative to the base URL and may carry
// a query string.
func (in *Instance) Request(ctx context.Context, path string) (*Response, error) {
	if in.auth == nil {
		return nil, ErrCredentialsNotSet
	}

	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	endpoint := endpointLabel(path)
	if in.limiter != nil {
		if err := in.limiter.Wait(ctx); err != nil {
			observability.Metrics.SNAPIErrorsTotal.WithLabelValues(in.hostName, "rate_limited").Inc()
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	token, err := in.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting auth token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.BaseURL()+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return nil, fmt.Errorf("creating GET request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "deflate")

	start := time.Now()
	resp, err := in.http.Do(req)
	observability.Metrics.SNAPIRequestsTotal.WithLabelValues(in.hostName, endpoint).Inc()
	observability.Metrics.SNAPILatency.WithLabelValues(in.hostName, endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(in.hostName, "network").Inc()
		in.logger.Warn("request failed", "path", path, "error", err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(in.hostName, "body").Inc()
		in.logger.Warn("request failed", "path", path, "status", resp.StatusCode, "error", err.Error())
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	statusText := statusText(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.Metrics.SNAPIErrorsTotal.WithLabelValues(in.hostName, strconv.Itoa(resp.StatusCode)).Inc()
		in.logger.Warn("request failed",
			"path", path,
			"status", resp.StatusCode,
			"status_text", statusText,
		)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			StatusText: statusText,
			Header:     resp.Header,
			Body:       body,
		}
	}

	in.logger.Debug("response received",
		"path", path,
		"status", resp.StatusCode,
		"body", truncateBody(body),
	)
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     statusText,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// IsUp checks whether the instance answers the time-ago endpoint with a
// JSON object. A successful response with any other body reports false
// without an error. Errors from Request are returned to the caller.
func (in *Instance) IsUp(ctx context.Context) (bool, error) {
	resp, err := in.Request(ctx, timeAgoPath)
	if err != nil {
		return false, err
	}
	if _, ok := resp.Object(); !ok {
		in.logger.Debug("liveness response is not an object", "body", truncateBody(resp.Body))
		return false, nil
	}
	return true, nil
}

// GetRecord returns the record with the given sys_id.
//
//	GET {baseURL}api/now/table/{table}/{id}
//
// An unknown table or id surfaces as an *HTTPError (see [IsNotFound]).
func (in *Instance) GetRecord(ctx context.Context, table, id string) (Record, error) {
	var rec Record
	if err := in.result(ctx, tableAPIPath+"/"+url.PathEscape(table)+"/"+url.PathEscape(id), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetSchema returns the decoded result of the table schema endpoint.
func (in *Instance) GetSchema(ctx context.Context, table string) (any, error) {
	var v any
	if err := in.result(ctx, schemaAPIPath+"/"+url.PathEscape(table), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetMetadata returns the decoded result of the UI metadata endpoint.
func (in *Instance) GetMetadata(ctx context.Context, table string) (any, error) {
	var v any
	if err := in.result(ctx, metadataAPIPath+"/"+url.PathEscape(table), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// QueryRecords runs one Table API query and returns at most limit records.
// It issues a single request; callers wanting more rows narrow the query.
//
//	GET {baseURL}api/now/table/{table}?sysparm_query=...&sysparm_limit=...
func (in *Instance) QueryRecords(ctx context.Context, table string, query *QueryBuilder, limit int, fields []string) ([]Record, error) {
	if query == nil {
		return nil, fmt.Errorf("query must not be nil; use NewQueryBuilder() for an empty query")
	}

	var recs []Record
	if err := in.result(ctx, tableQueryPath(table, query.Build(), limit, fields), &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// result performs Request and decodes the body's result field into v.
// Request errors are returned unwrapped.
func (in *Instance) result(ctx context.Context, path string, v any) error {
	resp, err := in.Request(ctx, path)
	if err != nil {
		return err
	}
	raw, err := resp.Result()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding result of %s: %w", path, err)
	}
	return nil
}

// tableQueryPath builds the relative Table API path for a query.
// All values are URL-encoded using net/url.
func tableQueryPath(table, query string, limit int, fields []string) string {
	params := url.Values{}
	params.Set("sysparm_exclude_reference_link", "true")
	if limit > 0 {
		params.Set("sysparm_limit", strconv.Itoa(limit))
	}
	if query != "" {
		params.Set("sysparm_query", query)
	}
	if len(fields) > 0 {
		params.Set("sysparm_fields", strings.Join(fields, ","))
	}
	return tableAPIPath + "/" + url.PathEscape(table) + "?" + params.Encode()
}

// endpointLabel maps a request path to a bounded metric label.
func endpointLabel(path string) string {
	path = strings.TrimLeft(path, "/")
	switch {
	case strings.HasPrefix(path, timeAgoPath):
		return "timeago"
	case strings.HasPrefix(path, schemaAPIPath):
		return "schema"
	case strings.HasPrefix(path, metadataAPIPath):
		return "metadata"
	case strings.HasPrefix(path, tableAPIPath):
		return "table"
	default:
		return "other"
	}
}

// statusText returns the reason phrase, e.g. "Unauthorized" for
// "401 Unauthorized".
func statusText(resp *http.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
