// Package testutil provides a scripted stand-in for the upstream query API
// and its OAuth2 token endpoint.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Paths served by MockQBO.
const (
	TokenPath = "/oauth2/v1/tokens/bearer"
	RealmID   = "4620816365"
)

// QueryPath is the query endpoint for RealmID.
var QueryPath = "/v3/company/" + RealmID + "/query"

// MockResponse defines one scripted response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// HangUp closes the connection without writing a response, which the
	// client observes as a transport failure.
	HangUp bool
}

// RecordedRequest is what MockQBO saw for one request.
type RecordedRequest struct {
	Path          string
	Query         string // the "query" parameter for query requests
	MinorVersion  string
	Authorization string
	Form          url.Values // token requests only
}

// MockQBO is a configurable mock of the upstream API.
type MockQBO struct {
	server *httptest.Server

	mu           sync.Mutex
	queryScript  []MockResponse
	tokenScript  []MockResponse
	queryHandler func(query string) MockResponse
	tokenSeq     int

	queries []RecordedRequest
	tokens  []RecordedRequest
}

// NewMockQBO starts a mock server. Without scripting, query requests answer
// with an empty page and token requests issue "token-1", "token-2", ...
func NewMockQBO() *MockQBO {
	m := &MockQBO{}

	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, m.handleToken)
	mux.HandleFunc(QueryPath, m.handleQuery)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the server base URL.
func (m *MockQBO) URL() string {
	return m.server.URL
}

// TokenURL returns the token endpoint URL.
func (m *MockQBO) TokenURL() string {
	return m.server.URL + TokenPath
}

// Close shuts down the server.
func (m *MockQBO) Close() {
	m.server.Close()
}

// Client returns an HTTP client wired to the server.
func (m *MockQBO) Client() *http.Client {
	return m.server.Client()
}

// ScriptQueries appends responses served, in order, to query requests.
func (m *MockQBO) ScriptQueries(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryScript = append(m.queryScript, resps...)
}

// ScriptTokens appends responses served, in order, to token requests.
func (m *MockQBO) ScriptTokens(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenScript = append(m.tokenScript, resps...)
}

// SetQueryHandler answers query requests once the script is drained.
func (m *MockQBO) SetQueryHandler(h func(query string) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryHandler = h
}

// Queries returns the recorded query requests.
func (m *MockQBO) Queries() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.queries))
	copy(out, m.queries)
	return out
}

// TokenRequests returns the recorded token requests.
func (m *MockQBO) TokenRequests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.tokens))
	copy(out, m.tokens)
	return out
}

func (m *MockQBO) handleToken(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))

	m.mu.Lock()
	m.tokens = append(m.tokens, RecordedRequest{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Form:          form,
	})
	var resp MockResponse
	if len(m.tokenScript) > 0 {
		resp = m.tokenScript[0]
		m.tokenScript = m.tokenScript[1:]
	} else {
		m.tokenSeq++
		resp = TokenResponse(fmt.Sprintf("token-%d", m.tokenSeq))
	}
	m.mu.Unlock()

	write(w, resp)
}

func (m *MockQBO) handleQuery(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")

	m.mu.Lock()
	m.queries = append(m.queries, RecordedRequest{
		Path:          r.URL.Path,
		Query:         query,
		MinorVersion:  r.URL.Query().Get("minorversion"),
		Authorization: r.Header.Get("Authorization"),
	})
	var resp MockResponse
	switch {
	case len(m.queryScript) > 0:
		resp = m.queryScript[0]
		m.queryScript = m.queryScript[1:]
	case m.queryHandler != nil:
		resp = m.queryHandler(query)
	default:
		resp = PageResponse("Customer", 0, 1)
	}
	m.mu.Unlock()

	write(w, resp)
}

func write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	if resp.HangUp {
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("response writer does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			// A partial status line keeps net/http from transparently
			// replaying the request on a reused connection.
			conn.Write([]byte("HTTP/1.1 5"))
			conn.Close()
		}
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// TokenResponse is a 200 token response carrying accessToken.
func TokenResponse(accessToken string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"access_token":%q,"token_type":"bearer","expires_in":3600}`, accessToken),
	}
}

// PageResponse is a 200 query response with n items of entity whose ids
// start at firstID.
func PageResponse(entity string, n, firstID int) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: PageBody(entity, n, firstID)}
}

// PageBody renders the response envelope with n items.
func PageBody(entity string, n, firstID int) string {
	items := make([]string, n)
	for i := 0; i < n; i++ {
		id := firstID + i
		items[i] = fmt.Sprintf(`{"Id":"%d","DisplayName":"%s %d","Active":true,"MetaData":{"LastUpdatedTime":"2024-05-01T10:00:00-07:00"}}`, id, entity, id)
	}
	return fmt.Sprintf(`{"QueryResponse":{%q:[%s],"startPosition":1,"maxResults":%d},"time":"2024-05-02T00:00:00.000-07:00"}`,
		entity, strings.Join(items, ","), n)
}

// EmptyEnvelope is a 200 response whose envelope has no item key.
func EmptyEnvelope() MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: `{"QueryResponse":{},"time":"2024-05-02T00:00:00.000-07:00"}`}
}

// StatusResponse is a bodyless-JSON error response with the given status.
func StatusResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"Fault":{"Error":[{"Message":"%s"}],"type":"SERVICE"}}`, http.StatusText(status)),
	}
}

// Repeat returns n copies of resp.
func Repeat(resp MockResponse, n int) []MockResponse {
	out := make([]MockResponse, n)
	for i := range out {
		out[i] = resp
	}
	return out
}
