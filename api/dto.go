/*
dto.go - Request/response data structures

PURPOSE:
  Wire shapes for the HTTP API. The derived state serializes with the
  engine's own JSON tags; the structs here cover request bodies and the
  error envelope.
*/
package api

import "github.com/warp/allotment-engine/staging"

// SaveItemsRequest replaces the whole item list.
type SaveItemsRequest struct {
	Year  int           `json:"year"`
	Items []ItemPayload `json:"items"`
}

// ItemPayload is one item as submitted by the client. Cadence is free
// text; normalization happens in the service.
type ItemPayload struct {
	Type       string `json:"type"`
	Quota      int    `json:"quota"`
	Cadence    string `json:"cadence"`
	Multiplier int    `json:"multiplier,omitempty"`
}

// StageEditRequest stages a partial edit for the item at Index.
type StageEditRequest struct {
	Index int           `json:"index"`
	Patch staging.Patch `json:"patch"`
}

// StageRemoveRequest stages the removal of the item at Index.
type StageRemoveRequest struct {
	Index int `json:"index"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
