package servicenow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// mockDoer records every request and answers with fn.
type mockDoer struct {
	mu    sync.Mutex
	calls []*http.Request
	fn    func(req *http.Request) (*http.Response, error)
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.fn(req)
}

func (m *mockDoer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockDoer) lastPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1].URL.Path
}

func respondWith(status int, body string) *mockDoer {
	return &mockDoer{fn: func(*http.Request) (*http.Response, error) {
		return newResponse(status, body, nil), nil
	}}
}

func newResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testCreds() *Credentials {
	return &Credentials{Username: "admin", Password: "secret"}
}

func newTestInstance(doer Doer, opts ...Option) *Instance {
	opts = append([]Option{WithHTTPClient(doer)}, opts...)
	return NewInstance("dev12345", testCreds(), testLogger(), opts...)
}

func TestNewInstance_StoresArguments(t *testing.T) {
	creds := testCreds()
	in := NewInstance("my_instance", creds, nil)
	if in.HostName() != "my_instance" {
		t.Errorf("HostName() = %q", in.HostName())
	}
	if in.Credentials() != creds {
		t.Error("Credentials() should return the value passed to NewInstance")
	}
	if NewInstance("my_instance", nil, nil).Credentials() != nil {
		t.Error("Credentials() should be nil when none were given")
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"dev12345", "https://dev12345.service-now.com/"},
		{"my_instance", "https://my_instance.service-now.com/"},
		{"acme-prod", "https://acme-prod.service-now.com/"},
	}
	for _, tt := range tests {
		in := NewInstance(tt.host, nil, nil)
		if got := in.BaseURL(); got != tt.want {
			t.Errorf("BaseURL() for %q = %q, want %q", tt.host, got, tt.want)
		}
		// Pure: repeated calls never mutate.
		if got := in.BaseURL(); got != tt.want {
			t.Errorf("second BaseURL() for %q = %q", tt.host, got)
		}
	}
}

func TestNoCredentials_FailsBeforeNetwork(t *testing.T) {
	doer := respondWith(http.StatusOK, `{"result":{}}`)
	in := NewInstance("dev12345", nil, testLogger(), WithHTTPClient(doer))
	ctx := context.Background()

	ops := map[string]func() error{
		"Request":     func() error { _, err := in.Request(ctx, "api/now/table/incident"); return err },
		"IsUp":        func() error { _, err := in.IsUp(ctx); return err },
		"GetRecord":   func() error { _, err := in.GetRecord(ctx, "incident", "1234"); return err },
		"GetSchema":   func() error { _, err := in.GetSchema(ctx, "incident"); return err },
		"GetMetadata": func() error { _, err := in.GetMetadata(ctx, "incident"); return err },
		"QueryRecords": func() error {
			_, err := in.QueryRecords(ctx, "incident", NewQueryBuilder(), 10, nil)
			return err
		},
	}
	for name, op := range ops {
		err := op()
		if !errors.Is(err, ErrCredentialsNotSet) {
			t.Errorf("%s: err = %v, want ErrCredentialsNotSet", name, err)
		}
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: error should be a *ConfigurationError", name)
		}
	}
	if n := doer.callCount(); n != 0 {
		t.Errorf("HTTP layer invoked %d times, want 0", n)
	}
	if !strings.Contains(ErrCredentialsNotSet.Error(), "credentials not set") {
		t.Errorf("error message = %q", ErrCredentialsNotSet.Error())
	}
}

func TestRequest_Headers(t *testing.T) {
	doer := respondWith(http.StatusOK, `{}`)
	in := newTestInstance(doer)

	resp, err := in.Request(context.Background(), "/api/now/timeago/absolute")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Status != "OK" {
		t.Errorf("envelope status = %d %q", resp.StatusCode, resp.Status)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("envelope headers not preserved: %v", resp.Header)
	}

	req := doer.calls[0]
	if req.Method != http.MethodGet {
		t.Errorf("expected GET, got %s", req.Method)
	}
	if got := req.URL.String(); got != "https://dev12345.service-now.com/api/now/timeago/absolute" {
		t.Errorf("URL = %s", got)
	}
	if got := req.Header.Get("Authorization"); got != "Basic YWRtaW46c2VjcmV0" {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.Header.Get("Accept-Encoding"); got != "deflate" {
		t.Errorf("Accept-Encoding = %q, want deflate", got)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "admin" || pass != "secret" {
		t.Errorf("BasicAuth() = (%q, %q, %v)", user, pass, ok)
	}
}

func TestIsUp_ObjectBody(t *testing.T) {
	in := newTestInstance(respondWith(http.StatusOK, `{"result":{"timeago":"just now"}}`))
	up, err := in.IsUp(context.Background())
	if err != nil {
		t.Fatalf("IsUp failed: %v", err)
	}
	if !up {
		t.Error("IsUp() = false, want true for an object body")
	}

	in = newTestInstance(respondWith(http.StatusOK, `{}`))
	if up, _ := in.IsUp(context.Background()); !up {
		t.Error("IsUp() = false, want true for {}")
	}
}

func TestIsUp_NonObjectBody(t *testing.T) {
	bodies := []string{"", "null", `"up"`, "42", "[1,2]", "<html>maintenance</html>"}
	for _, body := range bodies {
		doer := respondWith(http.StatusOK, body)
		in := newTestInstance(doer)
		up, err := in.IsUp(context.Background())
		if err != nil {
			t.Errorf("body %q: unexpected error %v", body, err)
		}
		if up {
			t.Errorf("body %q: IsUp() = true, want false", body)
		}
		if got := doer.lastPath(); got != "/api/now/timeago/absolute" {
			t.Errorf("path = %q", got)
		}
	}
}

func TestRequest_TransportErrorReturnedUnchanged(t *testing.T) {
	want := errors.New("dial tcp: connection refused")
	doer := &mockDoer{fn: func(*http.Request) (*http.Response, error) { return nil, want }}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	in := NewInstance("dev12345", testCreds(), logger, WithHTTPClient(doer))

	_, err := in.Request(context.Background(), timeAgoPath)
	if err != want {
		t.Fatalf("err = %v (%T), want the original error value", err, err)
	}
	if !strings.Contains(logs.String(), "connection refused") {
		t.Errorf("warning should include the raw error message, got %q", logs.String())
	}

	if _, err := in.IsUp(context.Background()); err != want {
		t.Errorf("IsUp err = %v, want the original error value", err)
	}
	if _, err := in.GetRecord(context.Background(), "incident", "1234"); err != want {
		t.Errorf("GetRecord err = %v, want the original error value", err)
	}
}

func TestRequest_HTTPErrorLoggedAndReturned(t *testing.T) {
	doer := respondWith(http.StatusUnauthorized, `{"error":{"message":"User Not Authenticated","detail":"Required to provide Auth information"},"status":"failure"}`)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	in := NewInstance("dev12345", testCreds(), logger, WithHTTPClient(doer))

	_, err := in.Request(context.Background(), timeAgoPath)
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v (%T), want *HTTPError", err, err)
	}
	if he.StatusCode != http.StatusUnauthorized || he.StatusText != "Unauthorized" {
		t.Errorf("HTTPError = %d %q", he.StatusCode, he.StatusText)
	}
	if he.Message() != "User Not Authenticated" {
		t.Errorf("Message() = %q", he.Message())
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Error() = %q", err.Error())
	}

	out := logs.String()
	if !strings.Contains(out, "status=401") || !strings.Contains(out, "status_text=Unauthorized") {
		t.Errorf("warning should include status and status text, got %q", out)
	}

	// IsUp propagates HTTP failures rather than reporting down.
	up, err := in.IsUp(context.Background())
	if up || !errors.As(err, &he) {
		t.Errorf("IsUp() = (%v, %v), want (false, *HTTPError)", up, err)
	}
}

func TestGetRecord(t *testing.T) {
	doer := respondWith(http.StatusOK, `{"result":{"sys_id":"1234","number":"INC0010001"}}`)
	in := newTestInstance(doer)

	rec, err := in.GetRecord(context.Background(), "incident", "1234")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	want := Record{"sys_id": "1234", "number": "INC0010001"}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("GetRecord mismatch (-want +got):\n%s", diff)
	}
	if got := doer.lastPath(); got != "/api/now/table/incident/1234" {
		t.Errorf("path = %q, want /api/now/table/incident/1234", got)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	in := newTestInstance(respondWith(http.StatusNotFound, `{"error":{"message":"No Record found"},"status":"failure"}`))
	_, err := in.GetRecord(context.Background(), "incident", "missing")
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
}

func TestGetRecord_MissingResult(t *testing.T) {
	in := newTestInstance(respondWith(http.StatusOK, `{"status":"ok"}`))
	_, err := in.GetRecord(context.Background(), "incident", "1234")
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("err = %v, want ErrNoResult", err)
	}
}

func TestGetSchemaAndMetadata(t *testing.T) {
	tests := []struct {
		name     string
		call     func(*Instance) (any, error)
		body     string
		wantPath string
		want     any
	}{
		{
			name:     "schema",
			call:     func(in *Instance) (any, error) { return in.GetSchema(context.Background(), "incident") },
			body:     `{"result":[{"label":"Number","value":"number","type":"string"}]}`,
			wantPath: "/api/now/doc/table/schema/incident",
			want:     []any{map[string]any{"label": "Number", "value": "number", "type": "string"}},
		},
		{
			name:     "metadata",
			call:     func(in *Instance) (any, error) { return in.GetMetadata(context.Background(), "incident") },
			body:     `{"result":{"columns":{"number":{"label":"Number"}}}}`,
			wantPath: "/api/now/ui/meta/incident",
			want:     map[string]any{"columns": map[string]any{"number": map[string]any{"label": "Number"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := respondWith(http.StatusOK, tt.body)
			got, err := tt.call(newTestInstance(doer))
			if err != nil {
				t.Fatalf("call failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
			if p := doer.lastPath(); p != tt.wantPath {
				t.Errorf("path = %q, want %q", p, tt.wantPath)
			}
		})
	}
}

func TestQueryRecords(t *testing.T) {
	doer := respondWith(http.StatusOK, `{"result":[{"sys_id":"001"},{"sys_id":"002"}]}`)
	in := newTestInstance(doer)

	q := NewQueryBuilder().WhereEquals("active", "true")
	recs, err := in.QueryRecords(context.Background(), "incident", q, 20, []string{"sys_id", "state"})
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	if len(recs) != 2 || recs[1]["sys_id"] != "002" {
		t.Errorf("records = %v", recs)
	}

	req := doer.calls[0]
	if req.URL.Path != "/api/now/table/incident" {
		t.Errorf("path = %q", req.URL.Path)
	}
	params := req.URL.Query()
	if params.Get("sysparm_limit") != "20" {
		t.Errorf("sysparm_limit = %q", params.Get("sysparm_limit"))
	}
	if params.Get("sysparm_query") != "active=true" {
		t.Errorf("sysparm_query = %q", params.Get("sysparm_query"))
	}
	if params.Get("sysparm_fields") != "sys_id,state" {
		t.Errorf("sysparm_fields = %q", params.Get("sysparm_fields"))
	}
	if params.Get("sysparm_exclude_reference_link") != "true" {
		t.Errorf("sysparm_exclude_reference_link = %q", params.Get("sysparm_exclude_reference_link"))
	}
}

func TestQueryRecords_NilQuery(t *testing.T) {
	doer := respondWith(http.StatusOK, `{"result":[]}`)
	in := newTestInstance(doer)
	if _, err := in.QueryRecords(context.Background(), "incident", nil, 10, nil); err == nil {
		t.Fatal("expected error for nil query")
	}
	if doer.callCount() != 0 {
		t.Error("nil query should not reach the network")
	}
}

func TestRequest_DeflateBody(t *testing.T) {
	payload := `{"result":{"sys_id":"1234"}}`

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, _ = zw.Write([]byte(payload))
	_ = zw.Close()

	var fbuf bytes.Buffer
	fw, _ := flate.NewWriter(&fbuf, flate.DefaultCompression)
	_, _ = fw.Write([]byte(payload))
	_ = fw.Close()

	for name, body := range map[string][]byte{"zlib": zbuf.Bytes(), "raw": fbuf.Bytes()} {
		t.Run(name, func(t *testing.T) {
			doer := &mockDoer{fn: func(*http.Request) (*http.Response, error) {
				resp := newResponse(http.StatusOK, "", http.Header{"Content-Encoding": {"deflate"}})
				resp.Body = io.NopCloser(bytes.NewReader(body))
				return resp, nil
			}}
			rec, err := newTestInstance(doer).GetRecord(context.Background(), "incident", "1234")
			if err != nil {
				t.Fatalf("GetRecord failed: %v", err)
			}
			if rec["sys_id"] != "1234" {
				t.Errorf("record = %v", rec)
			}
		})
	}
}

func TestRequest_Timeout(t *testing.T) {
	doer := &mockDoer{fn: func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}}
	in := newTestInstance(doer, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := in.Request(context.Background(), timeAgoPath)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not applied")
	}
}

func TestRequest_ConcurrentUse(t *testing.T) {
	doer := &mockDoer{fn: func(req *http.Request) (*http.Response, error) {
		id := req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:]
		return newResponse(http.StatusOK, `{"result":{"sys_id":"`+id+`"}}`, nil), nil
	}}
	in := newTestInstance(doer, WithRateLimiter(1000))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("id%02d", i)
			rec, err := in.GetRecord(context.Background(), "incident", id)
			if err != nil {
				errs <- err
				return
			}
			if rec["sys_id"] != id {
				errs <- fmt.Errorf("got %v for %s", rec["sys_id"], id)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if doer.callCount() != 20 {
		t.Errorf("calls = %d, want 20", doer.callCount())
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := map[string]string{
		"api/now/timeago/absolute":           "timeago",
		"/api/now/table/incident/1":          "table",
		"api/now/table/incident?sysparm_x=1": "table",
		"api/now/doc/table/schema/incident":  "schema",
		"api/now/ui/meta/incident":           "metadata",
		"api/now/stats/incident":             "other",
	}
	for path, want := range tests {
		if got := endpointLabel(path); got != want {
			t.Errorf("endpointLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestTruncateBody(t *testing.T) {
	if truncateBody([]byte("hello")) != "hello" {
		t.Error("short body should not be truncated")
	}
	result := truncateBody([]byte(strings.Repeat("x", 600)))
	if len(result) != 503 || !strings.HasSuffix(result, "...") {
		t.Errorf("truncated body = %d bytes", len(result))
	}
}
