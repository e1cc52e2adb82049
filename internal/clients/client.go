// internal/clients/client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"libris/internal/circulation"
	"libris/internal/fault"
	"libris/internal/render"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to a running libris server. A zero token sends anonymous
// requests; Login stores one for the protected endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError turns an error response back into a classified error so callers
// can branch with fault.Is the same way they would in process.
func statusError(resp *http.Response) error {
	var msg render.Message
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&msg); err != nil || msg.Message == "" {
		msg.Message = http.StatusText(resp.StatusCode)
	}

	kind := fault.Internal
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = fault.NotFound
	case http.StatusConflict:
		kind = fault.Conflict
	case http.StatusUnauthorized:
		kind = fault.Unauthorized
	case http.StatusTooManyRequests:
		kind = fault.RateLimited
	case http.StatusBadRequest:
		kind = fault.Validation
		if msg.Message == circulation.ErrOutOfStock.Message {
			kind = fault.OutOfStock
		}
	case http.StatusServiceUnavailable:
		kind = fault.Storage
	}
	return fault.New(kind, fmt.Sprintf("%s (status %d)", msg.Message, resp.StatusCode))
}
