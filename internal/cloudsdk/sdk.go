package cloudsdk

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/clouddisk/cloudsync/internal/version"
	"github.com/google/uuid"
	"github.com/imroc/req/v3"
)

const (
	apiPrefix = "/api/v1"

	HeaderRequestID     = "X-Request-Id"
	HeaderClientVersion = "X-CloudSync-Version"
	HeaderChunkHash     = "X-Chunk-Hash"
	HeaderDeviceID      = "X-CloudSync-Device"
)

// Client talks to the cloud disk api
type Client struct {
	client *req.Client
	stats  *httpStats
}

func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := cfg.withDefaults()

	stats := newHTTPStats()
	client := req.C().
		SetBaseURL(strings.TrimRight(c.BaseURL, "/")+apiPrefix).
		SetTimeout(c.Timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderClientVersion, version.Version).
		SetCommonRetryCount(c.RetryCount).
		SetCommonRetryFixedInterval(1*time.Second).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			r.SetHeader(HeaderRequestID, uuid.NewString())
			return nil
		}).
		OnAfterResponse(func(_ *req.Client, resp *req.Response) error {
			stats.onResponse(resp)
			return nil
		})

	if c.AccessToken != "" {
		client.SetCommonBearerAuthToken(c.AccessToken)
	}
	if c.DeviceID != "" {
		client.SetCommonHeader(HeaderDeviceID, c.DeviceID)
	}

	return &Client{client: client, stats: stats}, nil
}

// Stats returns a snapshot of the transport counters
func (c *Client) Stats() HTTPStats {
	return c.stats.snapshot()
}

func (c *Client) Close() {
	c.client.GetClient().CloseIdleConnections()
}

// read builds a request that may be retried
func (c *Client) read(ctx context.Context) *req.Request {
	return c.client.R().SetContext(ctx)
}

// write builds a request that is never retried, the server may have applied the first attempt
func (c *Client) write(ctx context.Context) *req.Request {
	return c.client.R().SetContext(ctx).SetRetryCount(0)
}

// doJSON sends r and unwraps the {code,message,data} envelope
func doJSON[T any](r *req.Request, method, path, op string) (T, error) {
	var (
		zero    T
		out     envelope[T]
		errBody errorBody
	)

	resp, err := r.
		SetSuccessResult(&out).
		SetErrorResult(&errBody).
		Send(method, path)

	if err := handleAPIError(resp, err, op, &errBody); err != nil {
		slog.Debug("api call failed", "op", op, "error", err)
		return zero, err
	}

	if out.Code != 0 {
		return zero, &APIError{Op: op, Status: resp.StatusCode, Code: out.Code, Message: out.Message}
	}

	return out.Data, nil
}
