// Package client talks to a kvlog server over http
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/kjk/kvlog/store"
)

type Client struct {
	// e.g. http://localhost:8000
	BaseURL string
	// if nil, http.DefaultClient is used
	HTTPClient *http.Client
	// timeout of a single request, 10 seconds if 0
	Timeout time.Duration
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
	}
}

func (c *Client) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second * 10
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) request(path string) *requests.Builder {
	r := requests.URL(c.BaseURL).Path(path)
	if c.HTTPClient != nil {
		r = r.Client(c.HTTPClient)
	}
	return r
}

// Get returns value of key. ok is false if key doesn't exist.
func (c *Client) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	err = c.request("/get").
		Param("key", key).
		ToString(&value).
		Fetch(ctx)
	if requests.HasStatusErr(err, http.StatusNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get '%s': %w", key, err)
	}
	return value, true, nil
}

// Set sets key to value. When it returns nil the server has durably
// recorded the write.
func (c *Client) Set(ctx context.Context, key, value string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	var errMsg string
	err := c.request("/set").
		Param(key, value).
		AddValidator(requests.ValidatorHandler(requests.DefaultValidator, requests.ToString(&errMsg))).
		Fetch(ctx)
	if err != nil {
		if errMsg != "" {
			return fmt.Errorf("set '%s': %w: %s", key, err, errMsg)
		}
		return fmt.Errorf("set '%s': %w", key, err)
	}
	return nil
}

func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	var res store.Stats
	err := c.request("/stats").
		ToJSON(&res).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
