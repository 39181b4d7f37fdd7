package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Sternrassler/qbo-backfill/pkg/record"
)

func TestMongoDocument(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r := record.ExtractedRecord{
		ID:             "42",
		Payload:        json.RawMessage(`{"Id":"42","Balance":10.5,"Active":true}`),
		IngestedAtUTC:  start.Add(50 * time.Hour),
		WindowStart:    start,
		WindowEnd:      start.Add(24 * time.Hour),
		PageNumber:     3,
		PageSize:       12,
		RequestPayload: "SELECT 1",
	}

	doc, err := mongoDocument(r)
	require.NoError(t, err)

	m := doc.Map()
	assert.Equal(t, "42", m["_id"])
	assert.Equal(t, 3, m["page_number"])
	assert.Equal(t, 12, m["page_size"])
	assert.Equal(t, "SELECT 1", m["request_payload"])
	assert.Equal(t, start, m["extract_window_start_utc"])

	payload, ok := m["payload"].(bson.D)
	require.True(t, ok, "payload should be a sub-document, got %T", m["payload"])
	assert.Equal(t, "42", payload.Map()["Id"])
	assert.Equal(t, 10.5, payload.Map()["Balance"])
}

func TestMongoDocument_InvalidPayload(t *testing.T) {
	_, err := mongoDocument(record.ExtractedRecord{ID: "1", Payload: json.RawMessage(`[1,2`)})
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}
