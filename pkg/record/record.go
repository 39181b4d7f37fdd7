// Package record defines the normalised row produced for every upstream item.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/Sternrassler/qbo-backfill/pkg/window"
)

// ErrMissingID is returned for items that carry no usable Id.
var ErrMissingID = errors.New("item has no Id")

// ExtractedRecord is one upstream item plus the provenance of the page it
// came from. Payload is passed through untouched.
type ExtractedRecord struct {
	ID             string
	Payload        json.RawMessage
	IngestedAtUTC  time.Time
	WindowStart    time.Time
	WindowEnd      time.Time
	PageNumber     int
	PageSize       int
	RequestPayload string
}

// Page describes the successful page an item belongs to.
type Page struct {
	Window     window.TimeWindow
	Number     int
	Size       int // items on this page
	Query      string
	IngestedAt time.Time
}

// FromItem builds the record for one raw item of page.
func FromItem(item json.RawMessage, page Page) (ExtractedRecord, error) {
	id, err := ItemID(item)
	if err != nil {
		return ExtractedRecord{}, err
	}
	return ExtractedRecord{
		ID:             id,
		Payload:        item,
		IngestedAtUTC:  page.IngestedAt.UTC(),
		WindowStart:    page.Window.StartUTC,
		WindowEnd:      page.Window.EndUTC,
		PageNumber:     page.Number,
		PageSize:       page.Size,
		RequestPayload: page.Query,
	}, nil
}

// ItemID returns the item's Id as a string. Numeric ids keep their literal
// digits.
func ItemID(item json.RawMessage) (string, error) {
	var probe struct {
		ID json.RawMessage `json:"Id"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return "", fmt.Errorf("decode item: %w", err)
	}

	raw := bytes.TrimSpace(probe.ID)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")):
		return "", ErrMissingID
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode Id: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return "", ErrMissingID
		}
		return s, nil
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		return string(raw), nil
	default:
		return "", fmt.Errorf("%w: unsupported Id %s", ErrMissingID, raw)
	}
}
