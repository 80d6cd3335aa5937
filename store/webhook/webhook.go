/*
Package webhook implements the storage ports over a plain HTTP upstream.

PURPOSE:
  An earlier revision of the dashboard persisted through webhook
  endpoints instead of a database. This client keeps that mode alive:
  items and the ledger live behind an HTTP base URL and the multi-shape
  unwrapping is applied to whatever the upstream returns.

ENDPOINTS:
  GET    {base}/items              items payload (any tolerated nesting)
  PUT    {base}/items              replace the item list
  GET    {base}/ledger             newline-delimited JSON ledger
  POST   {base}/ledger             append one event
  DELETE {base}/ledger/{id}        delete one event
  GET    {base}/ledger?item=&kind= filtered events, JSON array

No retries and no timeouts beyond the injected http.Client; failures
surface directly to the caller.
*/
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/engine"
)

// Client implements allot.Store against an HTTP upstream.
type Client struct {
	base string
	hc   *http.Client
}

// New creates a webhook client. hc may be nil to use http.DefaultClient.
func New(baseURL string, hc *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, engine.ErrStoreUnavailable
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc}, nil
}

// FetchItems fetches and unwraps the items payload.
func (c *Client) FetchItems(ctx context.Context) (allot.ItemsDoc, error) {
	body, err := c.do(ctx, http.MethodGet, c.base+"/items", nil)
	if err != nil {
		return allot.ItemsDoc{}, err
	}
	return allot.UnwrapItemsPayload(body)
}

// SaveItems replaces the upstream item list.
func (c *Client) SaveItems(ctx context.Context, year int, items []engine.AllotmentItem) error {
	payload, err := json.Marshal(allot.ItemsDoc{Year: year, Items: items})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.base+"/items", payload)
	return err
}

// LedgerJSONL fetches the raw ledger text.
func (c *Client) LedgerJSONL(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, c.base+"/ledger", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// AppendEvent posts one event row.
func (c *Client) AppendEvent(ctx context.Context, ev engine.RawEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.base+"/ledger", payload)
	return err
}

// DeleteEvent removes one event row by ID.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.base+"/ledger/"+url.PathEscape(id), nil)
	return err
}

// EventsByKind queries filtered events.
func (c *Client) EventsByKind(ctx context.Context, itemType, kind string) ([]engine.RawEvent, error) {
	q := url.Values{"item": {itemType}, "kind": {kind}}
	body, err := c.do(ctx, http.MethodGet, c.base+"/ledger?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out []engine.RawEvent
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook %s %s: status %d: %s",
			method, target, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
