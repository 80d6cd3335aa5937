package allot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/allotment-engine/engine"
)

// =============================================================================
// PAYLOAD UNWRAPPING - Defensive normalization of items responses
// =============================================================================

// UnwrapItemsPayload normalizes an items payload into ItemsDoc. Upstream
// sources have historically produced three nestings of the same document:
//
//	bare:    {"year":2024,"items":[...]}
//	wrapped: {"data":{"year":2024,"items":[...]}}
//	array:   [{"year":2024,"items":[...]}]
//
// Wrapping may stack (e.g. an array of wrapped objects); each layer is
// peeled recursively. Anything else is ErrMalformedPayload.
func UnwrapItemsPayload(raw []byte) (ItemsDoc, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ItemsDoc{}, fmt.Errorf("%w: empty body", engine.ErrMalformedPayload)
	}

	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return ItemsDoc{}, fmt.Errorf("%w: %v", engine.ErrMalformedPayload, err)
		}
		if len(arr) == 0 {
			return ItemsDoc{}, fmt.Errorf("%w: empty array", engine.ErrMalformedPayload)
		}
		return UnwrapItemsPayload(arr[0])

	case '{':
		var probe struct {
			Year  int                    `json:"year"`
			Items []engine.AllotmentItem `json:"items"`
			Data  json.RawMessage        `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return ItemsDoc{}, fmt.Errorf("%w: %v", engine.ErrMalformedPayload, err)
		}
		if probe.Items != nil {
			return ItemsDoc{Year: probe.Year, Items: probe.Items}, nil
		}
		if len(probe.Data) > 0 {
			return UnwrapItemsPayload(probe.Data)
		}
		return ItemsDoc{}, fmt.Errorf("%w: no items field", engine.ErrMalformedPayload)

	default:
		return ItemsDoc{}, fmt.Errorf("%w: unexpected leading byte %q", engine.ErrMalformedPayload, trimmed[0])
	}
}
