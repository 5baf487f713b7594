// Package spsp implements the client half of the Simple Payment Setup
// Protocol: a GET against a payment pointer's HTTPS endpoint returning
// the destination account and a STREAM shared secret to pay it with.
// The SPSP HTTP server endpoint itself is out of scope (spec.md §1
// Non-goals) — this package only queries one.
package spsp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ilpconnector/pkg/ilpaddr"
)

// ContentType is the media type an SPSP query response must carry.
const ContentType = "application/spsp4+json"

// DefaultTimeout is the http.Client timeout NewClient sets; it bounds
// every Query call, alongside any deadline on the caller's context.
const DefaultTimeout = 10 * time.Second

// queryResponse mirrors the JSON body returned by an SPSP endpoint.
type queryResponse struct {
	DestinationAccount string `json:"destination_account"`
	SharedSecret       string `json:"shared_secret"`
}

// Result is the decoded outcome of a successful Query.
type Result struct {
	DestinationAccount ilpaddr.Address
	SharedSecret       []byte
}

// Client performs SPSP queries over HTTP.
type Client struct {
	HTTPClient *http.Client
}

// NewClient constructs a Client with a bounded-timeout http.Client.
func NewClient() *Client {
	return &Client{HTTPClient: &http.Client{Timeout: DefaultTimeout}}
}

// Query performs a GET against url with the SPSP Accept header and
// decodes the destination account and shared secret from the response.
func Query(ctx context.Context, url string) (Result, error) {
	return NewClient().Query(ctx, url)
}

// Query performs a GET against url using c's HTTPClient.
func (c *Client) Query(ctx context.Context, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("spsp: build request: %w", err)
	}
	req.Header.Set("Accept", ContentType)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("spsp: query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("spsp: query %s: unexpected status %d: %s", url, resp.StatusCode, string(body))
	}

	var parsed queryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("spsp: decode response: %w", err)
	}

	addr, err := ilpaddr.Parse(parsed.DestinationAccount)
	if err != nil {
		return Result{}, fmt.Errorf("spsp: invalid destination_account: %w", err)
	}
	secret, err := base64.StdEncoding.DecodeString(parsed.SharedSecret)
	if err != nil {
		return Result{}, fmt.Errorf("spsp: invalid shared_secret encoding: %w", err)
	}
	return Result{DestinationAccount: addr, SharedSecret: secret}, nil
}
