// Package httpapi implements the message and booking transports over
// the marketplace REST API (JSON, bearer auth). It maps HTTP status
// codes onto the engine's error taxonomy so retry policy stays in the
// messaging layer.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skiff/cmd/internal/messaging"
)

const defaultRequestTimeout = 10 * time.Second

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// Client is the shared HTTP plumbing for both transports.
type Client struct {
	log     *slog.Logger
	base    *url.URL
	http    *http.Client
	token   string
	timeout time.Duration
}

// ClientOption configures Client behavior.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client (tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRequestTimeout bounds each request (default 10s).
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient constructs a Client for the API at baseURL. The bearer
// token may be empty for unauthenticated deployments.
func NewClient(log *slog.Logger, baseURL, token string, opts ...ClientOption) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("httpapi: invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("httpapi: base url must be absolute")
	}

	c := &Client{
		log:     log,
		base:    base,
		http:    &http.Client{},
		token:   strings.TrimSpace(token),
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// do issues one JSON request. A non-nil out is decoded from a 2xx body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return messaging.E(messaging.KindUnknown, "httpapi.encode", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return messaging.E(messaging.KindUnknown, "httpapi.request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return messaging.E(messaging.KindNetwork, "httpapi.request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return messaging.E(messaging.KindServer, "httpapi.decode", err)
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	var er errorResponse
	msg := resp.Status
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		msg = fmt.Sprintf("%s (%s)", er.Error.Message, er.Error.Code)
	}

	err := fmt.Errorf("api: %s", msg)
	return messaging.E(kindForStatus(resp.StatusCode), "httpapi.request", err)
}

func kindForStatus(status int) messaging.Kind {
	switch {
	case status == http.StatusUnauthorized:
		return messaging.KindAuthentication
	case status == http.StatusForbidden:
		return messaging.KindAuthorization
	case status == http.StatusBadRequest,
		status == http.StatusUnprocessableEntity,
		status == http.StatusTooManyRequests:
		return messaging.KindValidation
	case status >= 500:
		return messaging.KindServer
	default:
		return messaging.KindUnknown
	}
}
