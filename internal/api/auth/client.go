package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ErrAuthExpired is returned when a call still gets a 401 after the single
// forced token renewal.
var ErrAuthExpired = errors.New("authorization expired after renewal")

// Client executes API calls with the provider's token injected. A 401
// response triggers exactly one renew-then-retry; a second 401 is fatal for
// that call. Non-401 errors propagate immediately with no implicit retry.
type Client struct {
	cache    *Cache
	provider Provider
	http     *http.Client
	timeout  time.Duration
	logger   *zap.Logger
}

// NewClient creates a credentialed client for one provider namespace.
func NewClient(cache *Cache, provider Provider, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		cache:    cache,
		provider: provider,
		http:     &http.Client{},
		timeout:  timeout,
		logger:   logger.Named("api_" + string(provider.Name())),
	}
}

// DoJSON performs an authorized request and decodes the JSON response into
// out. The request body (if any) is re-marshaled per attempt so a 401 retry
// never reuses a consumed reader.
func (c *Client) DoJSON(ctx context.Context, method, url string, body, out any) error {
	token, err := c.cache.ValidToken(ctx, c.provider)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}

	status, payload, err := c.execute(ctx, method, url, body, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		// Exactly one renewal and retry
		token, err = c.cache.Renew(ctx, c.provider)
		if err != nil {
			return fmt.Errorf("failed to renew token: %w", err)
		}

		status, payload, err = c.execute(ctx, method, url, body, token)
		if err != nil {
			return err
		}

		if status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s %s", ErrAuthExpired, method, url)
		}
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatusCode, status, string(payload))
	}

	if out == nil {
		return nil
	}

	if err := sonic.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}

	return nil
}

// execute performs a single attempt with a per-call timeout.
func (c *Client) execute(ctx context.Context, method, url string, body any, token string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody

	if body != nil {
		jsonBody, err := sonic.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("error marshaling request: %w", err)
		}

		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("error reading response: %w", err)
	}

	return resp.StatusCode, payload, nil
}
