//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/qbo-backfill/internal/testutil"
	"github.com/Sternrassler/qbo-backfill/pkg/auth"
	"github.com/Sternrassler/qbo-backfill/pkg/client"
	"github.com/Sternrassler/qbo-backfill/pkg/extract"
	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/pagination"
)

// TestFullBackfillFlow runs token exchange, paging, retries and the
// Postgres upsert end to end: 401 refresh on day one, a 503 on day two.
func TestFullBackfillFlow(t *testing.T) {
	opts, cleanup := setupPostgres(t, table)
	defer cleanup()

	mockQBO := testutil.NewMockQBO()
	defer mockQBO.Close()

	mockQBO.ScriptQueries(
		testutil.StatusResponse(http.StatusUnauthorized),
		testutil.PageResponse("Customer", 3, 1),
		testutil.PageResponse("Customer", 1, 4),
		testutil.StatusResponse(http.StatusServiceUnavailable),
		testutil.PageResponse("Customer", 2, 10),
	)

	rec := logging.NewRecorder()
	s := openPostgresSink(t, opts, rec)
	defer s.Close()

	cfg := client.DefaultConfig(testutil.RealmID)
	cfg.BaseURL = mockQBO.URL()
	cfg.HTTPClient = mockQBO.Client()
	qc, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	tokens := auth.NewProvider(auth.Config{
		TokenURL:     mockQBO.TokenURL(),
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh",
	}, mockQBO.Client(), rec)

	policy := client.DefaultBackoffPolicy()
	policy.Base = time.Millisecond

	fetcher := pagination.NewFetcher(qc, tokens, pagination.Config{
		Entity:   "Customer",
		PageSize: 3,
		Backoff:  policy,
	}, rec)

	job := extract.NewJob(extract.NewOrchestrator(tokens, fetcher, rec), s, rec)

	summary, err := job.Execute(context.Background(), "2024-05-01", "2024-05-02")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := len(summary.Run.Records); got != 6 {
		t.Errorf("records = %d, want 6", got)
	}
	if summary.Run.Refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", summary.Run.Refreshes)
	}
	if summary.Sink.Rows != 6 {
		t.Errorf("sink rows = %d, want 6", summary.Sink.Rows)
	}
	if n := countRows(t, s); n != 6 {
		t.Errorf("table rows = %d, want 6", n)
	}

	if got := len(mockQBO.TokenRequests()); got != 2 {
		t.Errorf("token requests = %d, want 2", got)
	}
	if got := len(rec.ByPhase(logging.PhaseServer)); got != 1 {
		t.Errorf("SERVER events = %d, want 1", got)
	}

	var pageNumber, pageSize int
	row := s.DB().QueryRow("SELECT page_number, page_size FROM "+s.QualifiedTable()+" WHERE id = $1", "4")
	if err := row.Scan(&pageNumber, &pageSize); err != nil {
		t.Fatalf("read page metadata: %v", err)
	}
	if pageNumber != 2 || pageSize != 1 {
		t.Errorf("page metadata = (%d, %d), want (2, 1)", pageNumber, pageSize)
	}
}
