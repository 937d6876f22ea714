package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/clouddisk/cloudsync/internal/client/handlers"
	"github.com/clouddisk/cloudsync/internal/version"
	"github.com/imroc/req/v3"
)

const ctlTimeout = 10 * time.Second

// ctlClient talks to the control plane of a running agent
type ctlClient struct {
	baseURL string
	client  *req.Client
}

// newCtlClient reads the control plane address from the config. A zero timeout
// is for streams that stay open until cancelled.
func newCtlClient(timeout time.Duration) (*ctlClient, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	baseURL, err := cfg.ControlPlaneURL()
	if err != nil {
		return nil, err
	}

	c := req.C().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetUserAgent(version.UserAgent())
	if cfg.HTTPToken != "" {
		c.SetCommonBearerAuthToken(cfg.HTTPToken)
	}
	return &ctlClient{baseURL: baseURL, client: c}, nil
}

func (c *ctlClient) do(ctx context.Context, method, path string, out any) error {
	var cpErr handlers.ControlPlaneError
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(out).
		SetErrorResult(&cpErr).
		Send(method, path)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", c.baseURL, err)
	}
	if resp.IsErrorState() {
		if cpErr.Error != "" {
			return fmt.Errorf("%s: %s", cpErr.ErrorCode, cpErr.Error)
		}
		return fmt.Errorf("agent returned %s", resp.Status)
	}
	return nil
}

// stream opens path and hands back the raw body, the caller closes it
func (c *ctlClient) stream(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("agent not reachable at %s: %w", c.baseURL, err)
	}
	if resp.IsErrorState() {
		resp.Body.Close()
		return nil, fmt.Errorf("agent returned %s", resp.Status)
	}
	return resp.Body, nil
}
