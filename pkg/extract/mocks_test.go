package extract

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Sternrassler/qbo-backfill/pkg/auth"
	"github.com/Sternrassler/qbo-backfill/pkg/pagination"
	"github.com/Sternrassler/qbo-backfill/pkg/record"
	"github.com/Sternrassler/qbo-backfill/pkg/sink"
	"github.com/Sternrassler/qbo-backfill/pkg/window"
)

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Obtain(ctx context.Context) (auth.Credential, error) {
	args := m.Called(ctx)
	return args.Get(0).(auth.Credential), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchWindow(ctx context.Context, w window.TimeWindow, cred auth.Credential) pagination.WindowResult {
	args := m.Called(ctx, w, cred)
	return args.Get(0).(pagination.WindowResult)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, start, end string) (RunResult, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).(RunResult), args.Error(1)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Upsert(ctx context.Context, records []record.ExtractedRecord) (sink.Result, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(sink.Result), args.Error(1)
}

func (m *mockSink) EnsureSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSink) Close() error {
	return m.Called().Error(0)
}

func onDay(date string) interface{} {
	return mock.MatchedBy(func(w window.TimeWindow) bool { return w.Date() == date })
}
