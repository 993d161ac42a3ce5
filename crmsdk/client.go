/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package crmsdk is the shared HTTP core used by the softphone's CRM
// collaborators (call logs, queue membership, transfers, scripts, tasks).
package crmsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the interface for client logging. *logrus.Logger and
// *log.Logger both satisfy it.
type Logger interface {
	Printf(format string, v ...any)
}

// Client talks to the CRM backend REST API.
type Client struct {
	httpClient *http.Client

	// BaseURL is the parsed backend root, e.g. https://crm.example.com/api
	BaseURL *url.URL

	accessToken string

	// Config the client was built from
	Config *Config

	logger Logger
}

// Config holds the configuration for the backend client
type Config struct {
	// BaseURL is the root of the backend REST API
	BaseURL string

	// Timeout for a single HTTP round trip
	Timeout time.Duration

	// DefaultHeaders are sent with every request
	DefaultHeaders map[string]string

	// HttpClient overrides the default client built from Timeout
	HttpClient *http.Client

	// MaxRetries is the maximum number of retries for transient errors (429, 502, 503, 504).
	// Set to 0 to disable retries.
	MaxRetries int

	// RetryBaseDelay is the initial delay between retries. Subsequent
	// retries back off exponentially.
	RetryBaseDelay time.Duration

	// UserAgent is sent as the User-Agent header when set
	UserAgent string

	// Logger defaults to logrus.StandardLogger()
	Logger Logger
}

// DefaultConfig returns a default configuration for the backend client
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8080/api",
		Timeout:        15 * time.Second,
		DefaultHeaders: make(map[string]string),
		MaxRetries:     2,
		RetryBaseDelay: 500 * time.Millisecond,
		UserAgent:      "crm-softphone",
	}
}

// NewClient creates a backend client with the given bearer token
func NewClient(accessToken string, config *Config) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	if config == nil {
		config = DefaultConfig()
	}

	baseURL, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", config.BaseURL)
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		httpClient:  httpClient,
		BaseURL:     baseURL,
		accessToken: accessToken,
		Config:      config,
		logger:      logger,
	}, nil
}

// URL resolves a path relative to BaseURL. Used by clients that dial
// non-HTTP transports (websocket streams) against the same backend.
func (c *Client) URL(path string, params url.Values) *url.URL {
	u := *c.BaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return &u
}

// AuthHeaders returns the headers every backend call carries.
func (c *Client) AuthHeaders() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.accessToken)
	if c.Config.UserAgent != "" {
		h.Set("User-Agent", c.Config.UserAgent)
	}
	for k, v := range c.Config.DefaultHeaders {
		h.Set(k, v)
	}
	return h
}

// RequestWithContext performs a single JSON request against the backend.
// The caller is responsible for closing the response body.
func (c *Client) RequestWithContext(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, params).String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header = c.AuthHeaders()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	return c.httpClient.Do(req)
}

// RequestWithRetry performs a request, retrying 429 and transient 5xx
// responses with exponential backoff. Retry-After is honored for 429.
// The caller is responsible for closing the response body.
func (c *Client) RequestWithRetry(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	maxRetries := c.Config.MaxRetries
	baseDelay := c.Config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 500 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.RequestWithContext(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}

		if !isRetryableStatus(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		delay := retryDelay(resp, baseDelay, attempt)
		resp.Body.Close()
		c.logger.Printf("crmsdk: %s %s returned %d, retrying in %s", method, path, resp.StatusCode, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Do is RequestWithRetry followed by ParseResponse into v. A nil v only
// checks the status code.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, body, v interface{}) error {
	resp, err := c.RequestWithRetry(ctx, method, path, params, body)
	if err != nil {
		return err
	}
	return ParseResponse(resp, v)
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// retryDelay uses Retry-After on 429, otherwise baseDelay * 2^attempt.
func retryDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return baseDelay * (1 << uint(attempt))
}

// ParseResponse decodes a JSON response into v and closes the body.
// Responses >= 400 are turned into typed errors via NewAPIError.
func ParseResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return NewAPIError(resp, body)
	}

	if v == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}
