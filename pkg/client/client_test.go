package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/qbo-backfill/internal/testutil"
	"github.com/Sternrassler/qbo-backfill/pkg/ratelimit"
)

func newTestClient(t *testing.T) (*Client, *testutil.MockQBO) {
	t.Helper()

	mock := testutil.NewMockQBO()
	t.Cleanup(mock.Close)

	cfg := DefaultConfig(testutil.RealmID)
	cfg.BaseURL = mock.URL()
	cfg.HTTPClient = mock.Client()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, mock
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing base url", cfg: Config{RealmID: "1"}, wantErr: "base url is required"},
		{name: "missing realm", cfg: Config{BaseURL: "http://x"}, wantErr: "realm id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("New() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Endpoint(t *testing.T) {
	c, err := New(Config{BaseURL: "https://example.test/", RealmID: "123"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Endpoint(), "https://example.test/v3/company/123/query"; got != want {
		t.Errorf("Endpoint() = %q, want %q", got, want)
	}
}

func TestQuery_Success(t *testing.T) {
	c, mock := newTestClient(t)
	mock.ScriptQueries(testutil.PageResponse("Customer", 2, 10))

	query := "SELECT * FROM Customer STARTPOSITION 1 MAXRESULTS 1000"
	resp, err := c.Query(context.Background(), "tok", query)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), `"Id":"11"`) {
		t.Errorf("Body = %s", resp.Body)
	}

	reqs := mock.Queries()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].Query != query {
		t.Errorf("query = %q, want %q", reqs[0].Query, query)
	}
	if reqs[0].MinorVersion != "65" {
		t.Errorf("minorversion = %q, want 65", reqs[0].MinorVersion)
	}
	if reqs[0].Authorization != "Bearer tok" {
		t.Errorf("Authorization = %q", reqs[0].Authorization)
	}
}

func TestQuery_StatusClasses(t *testing.T) {
	tests := []struct {
		status int
		class  ErrorClass
	}{
		{http.StatusUnauthorized, ErrorClassUnauthorized},
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusServiceUnavailable, ErrorClassServer},
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusForbidden, ErrorClassClient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, mock := newTestClient(t)
			mock.ScriptQueries(testutil.StatusResponse(tt.status))

			resp, err := c.Query(context.Background(), "tok", "q")

			var qe *QueryError
			if !errors.As(err, &qe) {
				t.Fatalf("Query() error = %v, want *QueryError", err)
			}
			if qe.Class != tt.class || qe.StatusCode != tt.status {
				t.Errorf("QueryError = %+v, want class %s status %d", qe, tt.class, tt.status)
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Errorf("response should be returned alongside the error, got %+v", resp)
			}
			if n := len(mock.Queries()); n != 1 {
				t.Errorf("requests = %d, want exactly 1 (no internal retry)", n)
			}
		})
	}
}

func TestQuery_NetworkError(t *testing.T) {
	c, mock := newTestClient(t)
	mock.ScriptQueries(testutil.MockResponse{HangUp: true})

	resp, err := c.Query(context.Background(), "tok", "q")

	var qe *QueryError
	if !errors.As(err, &qe) || qe.Class != ErrorClassNetwork {
		t.Fatalf("Query() error = %v, want network QueryError", err)
	}
	if resp != nil {
		t.Errorf("response = %+v, want nil", resp)
	}
	if !qe.Transient() {
		t.Error("network errors should be transient")
	}
}

func TestQuery_Timeout(t *testing.T) {
	c, mock := newTestClient(t)
	mock.ScriptQueries(testutil.MockResponse{StatusCode: 200, Body: "{}", Delay: 200 * time.Millisecond})
	c.SetHTTPClient(&http.Client{Timeout: 20 * time.Millisecond})

	_, err := c.Query(context.Background(), "tok", "q")

	var qe *QueryError
	if !errors.As(err, &qe) || qe.Class != ErrorClassNetwork {
		t.Errorf("Query() error = %v, want network QueryError", err)
	}
}

func TestQuery_ContextCancelled(t *testing.T) {
	c, _ := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Query(ctx, "tok", "q")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Query() error = %v, want context.Canceled", err)
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		t.Error("a cancelled run must not look like a transient network failure")
	}
}

func TestQuery_Paced(t *testing.T) {
	mock := testutil.NewMockQBO()
	defer mock.Close()

	cfg := DefaultConfig(testutil.RealmID)
	cfg.BaseURL = mock.URL()
	cfg.HTTPClient = mock.Client()
	cfg.Pacer = ratelimit.NewPacer(1200, zerolog.Nop()) // 50ms spacing

	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Query(context.Background(), "tok", "q"); err != nil {
			t.Fatalf("Query() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 paced queries took %v, want >= ~100ms", elapsed)
	}
}
