package cloudsdk

import (
	"net/url"
	"time"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultRetryCount = 3
	DefaultPageSize   = 100
)

// Config is the configuration of a Client
type Config struct {
	BaseURL     string        // BaseURL is required, e.g. http://localhost:8000
	AccessToken string        // AccessToken is sent as a bearer token when set
	DeviceID    string        // DeviceID identifies this machine to the server, optional
	Timeout     time.Duration // per request, defaults to DefaultTimeout
	RetryCount  int           // retries for idempotent reads, defaults to DefaultRetryCount
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidServerURL
	}
	return nil
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	} else if cfg.RetryCount == 0 {
		cfg.RetryCount = DefaultRetryCount
	}
	return cfg
}
