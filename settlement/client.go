// Package settlement implements the HTTP client for an external
// settlement engine (spec.md §4.11, §6.4): account registration, settle
// calls, and peer-to-peer settlement-engine messages, each idempotent
// via a generated Idempotency-Key header.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Default retry policy (spec.md §4.11): up to MaxAttempts attempts;
// 5xx/timeout waits RetryWaitServer then retries; any other error
// waits RetryWaitOther then retries; 4xx propagates immediately.
const (
	DefaultMaxAttempts     = 10
	DefaultRetryWaitServer = 5 * time.Second
	DefaultRetryWaitOther  = 1 * time.Second
)

// Client talks to one account's settlement_engine_url. Grounded on the
// teacher's `ReplicationConfig{RetryBackoff time.Duration}` /
// bootstrap_node.go shape for backoff-as-config: no retry/backoff
// library appears in any example repo's go.mod, so the loop is
// hand-rolled `time.Sleep` over stdlib `net/http`, matching the pack's
// own practice rather than introducing an unseen dependency.
type Client struct {
	HTTPClient *http.Client
	Logger     *logrus.Logger

	MaxAttempts     int
	RetryWaitServer time.Duration
	RetryWaitOther  time.Duration
}

// NewClient constructs a Client with the default retry policy.
func NewClient(logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
		Logger:          logger,
		MaxAttempts:     DefaultMaxAttempts,
		RetryWaitServer: DefaultRetryWaitServer,
		RetryWaitOther:  DefaultRetryWaitOther,
	}
}

// RegisterAccount registers accountID with the engine at baseURL
// (spec.md §4.11 "POST /accounts/{id}").
func (c *Client) RegisterAccount(ctx context.Context, baseURL, accountID string) error {
	url := fmt.Sprintf("%s/accounts/%s", baseURL, accountID)
	body, err := json.Marshal(map[string]string{"id": accountID})
	if err != nil {
		return fmt.Errorf("settlement: marshal register body: %w", err)
	}
	_, err = c.doWithRetry(ctx, http.MethodPost, url, body)
	return err
}

// Settle requests the engine settle amount units at scale for accountID
// (spec.md §4.11 "POST /accounts/{id}/settlements").
func (c *Client) Settle(ctx context.Context, baseURL, accountID string, amount uint64, scale uint8) error {
	url := fmt.Sprintf("%s/accounts/%s/settlements", baseURL, accountID)
	body, err := json.Marshal(struct {
		Amount uint64 `json:"amount"`
		Scale  uint8  `json:"scale"`
	}{Amount: amount, Scale: scale})
	if err != nil {
		return fmt.Errorf("settlement: marshal settle body: %w", err)
	}
	_, err = c.doWithRetry(ctx, http.MethodPost, url, body)
	return err
}

// Message forwards opaque peer-to-peer settlement-engine bytes and
// returns the engine's reply body, used as the Fulfill data for an
// inbound prepare addressed to peer.settle (spec.md §4.11, §4.2).
func (c *Client) Message(ctx context.Context, baseURL, accountID string, data []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/accounts/%s/messages", baseURL, accountID)
	return c.doWithRetry(ctx, http.MethodPost, url, data)
}

// doWithRetry executes one POST, retrying per the policy in spec.md
// §4.11: 5xx/timeout waits RetryWaitServer and retries; any other
// transport error waits RetryWaitOther and retries; a 4xx response
// propagates immediately without further attempts.
func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	idempotencyKey := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		respBody, status, err := c.do(ctx, method, url, body, idempotencyKey)
		if err == nil && status >= 200 && status < 300 {
			return respBody, nil
		}
		if err == nil && status >= 400 && status < 500 {
			return nil, fmt.Errorf("settlement: %s %s returned %d: %s", method, url, status, respBody)
		}

		wait := c.RetryWaitOther
		if wait <= 0 {
			wait = DefaultRetryWaitOther
		}
		if err == nil && status >= 500 {
			lastErr = fmt.Errorf("settlement: %s %s returned %d", method, url, status)
			if w := c.RetryWaitServer; w > 0 {
				wait = w
			} else {
				wait = DefaultRetryWaitServer
			}
		} else if err != nil {
			lastErr = err
			if isTimeout(err) {
				if w := c.RetryWaitServer; w > 0 {
					wait = w
				} else {
					wait = DefaultRetryWaitServer
				}
			}
		}

		c.Logger.WithFields(logrus.Fields{"url": url, "attempt": attempt, "wait": wait}).
			Warn("settlement: request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("settlement: %s %s failed after %d attempts: %w", method, url, maxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, idempotencyKey string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("settlement: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("settlement: do request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("settlement: read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
