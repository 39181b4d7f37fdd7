package client

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// DecodeItems extracts the raw items stored under QueryResponse.<entity>.
// A missing or null key is an empty page.
func DecodeItems(body []byte, entity string) ([]json.RawMessage, error) {
	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	raw, ok := envelope.QueryResponse[entity]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s items: %w", entity, err)
	}
	return items, nil
}
