package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/admirito/mongowatch/pkg/mongowatch/queue"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
)

// ConnectivityError reports that the owner process could not be
// reached. It is distinct from every queue error so callers can tell a
// dead owner from a rejected operation.
type ConnectivityError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("queue owner unreachable during %s (%s): %v", e.Op, e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ClientConfig configures a remote stub client.
type ClientConfig struct {
	// URL is the owner's base address, e.g. "http://127.0.0.1:9912".
	URL string
	// RequestTimeout bounds each HTTP round trip beyond its wait
	// budget. Defaults to 10 seconds.
	RequestTimeout time.Duration
	// MaxServerWait is the per-call wait bound the owner enforces;
	// longer caller waits are sliced into repeated calls. Defaults to
	// DefaultMaxServerWait.
	MaxServerWait time.Duration
	Logger        *slog.Logger
}

// Client is a stateless stub over an owner server. It implements the
// same interface as a local queue; all state lives on the owner.
type Client struct {
	http          *resty.Client
	url           string
	maxServerWait time.Duration
	logger        *slog.Logger
}

var _ queue.Interface = (*Client)(nil)

// NewClient builds a stub client for the owner at cfg.URL.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxServerWait := cfg.MaxServerWait
	if maxServerWait <= 0 {
		maxServerWait = DefaultMaxServerWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout + maxServerWait).
		SetHeader("Content-Type", "application/json")
	return &Client{
		http:          httpClient,
		url:           cfg.URL,
		maxServerWait: maxServerWait,
		logger:        logger,
	}
}

// Put forwards one update to the owner.
func (c *Client) Put(ctx context.Context, id string, fields map[string]any, final bool, timeout time.Duration) error {
	req := putRequest{
		ID:        id,
		Fields:    fields,
		Final:     final,
		TimeoutMS: timeout.Milliseconds(),
	}
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetError(&apiErr).
		Post("/v1/records")
	if err != nil {
		return &ConnectivityError{Op: "put", URL: c.url, Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return &queue.LateUpdateError{ID: id}
	case http.StatusGone:
		return queue.ErrClosed
	case http.StatusServiceUnavailable:
		return queue.ErrFull
	default:
		return fmt.Errorf("put %s: owner returned %d: %s", id, resp.StatusCode(), apiErr.Error)
	}
}

// Get fetches the next released record, blocking up to maxWait. Waits
// longer than the owner's per-call bound are sliced into repeated
// calls so a single slow request cannot pin the owner.
func (c *Client) Get(ctx context.Context, maxWait time.Duration) (record.Snapshot, error) {
	deadline := time.Now().Add(maxWait)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		wait := remaining
		if wait > c.maxServerWait {
			wait = c.maxServerWait
		}

		var snap record.Snapshot
		var apiErr errorResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("max_wait_ms", strconv.FormatInt(wait.Milliseconds(), 10)).
			SetResult(&snap).
			SetError(&apiErr).
			Get("/v1/records/next")
		if err != nil {
			return record.Snapshot{}, &ConnectivityError{Op: "get", URL: c.url, Err: err}
		}

		switch resp.StatusCode() {
		case http.StatusOK:
			return snap, nil
		case http.StatusNoContent:
			if time.Now().Add(time.Millisecond).After(deadline) {
				return record.Snapshot{}, queue.ErrEmpty
			}
		case http.StatusGone:
			return record.Snapshot{}, errors.Join(queue.ErrEmpty, queue.ErrClosed)
		default:
			return record.Snapshot{}, fmt.Errorf("get: owner returned %d: %s", resp.StatusCode(), apiErr.Error)
		}

		if ctx.Err() != nil {
			return record.Snapshot{}, ctx.Err()
		}
	}
}

// Size reports how many live records the owner holds.
func (c *Client) Size(ctx context.Context) (int, error) {
	var result sizeResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&apiErr).
		Get("/v1/queue/size")
	if err != nil {
		return 0, &ConnectivityError{Op: "size", URL: c.url, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("size: owner returned %d: %s", resp.StatusCode(), apiErr.Error)
	}
	return result.Size, nil
}

// Drain asks the owner to cancel and flush every live record.
func (c *Client) Drain(ctx context.Context) error {
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&apiErr).
		Post("/v1/queue/drain")
	if err != nil {
		return &ConnectivityError{Op: "drain", URL: c.url, Err: err}
	}
	if resp.StatusCode() != http.StatusAccepted {
		return fmt.Errorf("drain: owner returned %d: %s", resp.StatusCode(), apiErr.Error)
	}
	return nil
}

// Ping reports whether the owner answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return &ConnectivityError{Op: "ping", URL: c.url, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ping: owner returned %d", resp.StatusCode())
	}
	return nil
}
