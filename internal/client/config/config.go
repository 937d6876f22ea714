package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/goccy/go-json"
)

var (
	home, _             = os.UserHomeDir()
	DefaultConfigPath   = filepath.Join(home, ".cloudsync", "config.json")
	DefaultDataDir      = filepath.Join(home, ".cloudsync")
	DefaultLogFilePath  = filepath.Join(home, ".cloudsync", "logs", "cloudsync.log")
	DefaultServerURL    = "http://localhost:8000"
	DefaultHTTPAddr     = "localhost:7939"
	DefaultRemoteRoot   = "SyncRoot"
	DefaultPollInterval = 30 * time.Minute
	DefaultPageSize     = 100
)

const (
	MinPollInterval = 10 * time.Second
	MaxPageSize     = 1000
)

var (
	ErrInvalidServerURL = errors.New("invalid server url")
	ErrInvalidHTTPAddr  = errors.New("invalid http addr")
)

type Config struct {
	SyncDir      string        `json:"sync_dir,omitempty"`
	ServerURL    string        `json:"server_url"`
	AccessToken  string        `json:"access_token,omitempty"`
	DataDir      string        `json:"data_dir"`
	RemoteRoot   string        `json:"remote_root"`
	PollInterval time.Duration `json:"-"`
	PageSize     int           `json:"page_size"`
	HTTPAddr     string        `json:"http_addr"`
	HTTPToken    string        `json:"http_token,omitempty"`
	Path         string        `json:"-"`
}

// on-disk form, durations are kept human readable
type fileConfig struct {
	*Config
	PollInterval string `json:"poll_interval"`
}

// Validate fills defaults and normalizes paths. An empty sync dir is allowed,
// starting the sync then fails until one is configured.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if err := validateURL(c.ServerURL); err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.SyncDir != "" {
		syncDir, err := utils.ResolvePath(c.SyncDir)
		if err != nil {
			return fmt.Errorf("sync dir: %w", err)
		}
		if utils.IsSubPath(syncDir, c.DataDir) {
			return fmt.Errorf("sync dir: data dir %q must not be inside it", c.DataDir)
		}
		c.SyncDir = syncDir
	}

	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	path, err := utils.ResolvePath(c.Path)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	c.Path = path

	c.RemoteRoot = strings.Trim(c.RemoteRoot, "/ ")
	if c.RemoteRoot == "" {
		c.RemoteRoot = DefaultRemoteRoot
	}
	if strings.Contains(c.RemoteRoot, "/") {
		return fmt.Errorf("remote root %q: must be a single folder name", c.RemoteRoot)
	}

	switch {
	case c.PollInterval == 0:
		c.PollInterval = DefaultPollInterval
	case c.PollInterval < MinPollInterval:
		return fmt.Errorf("poll interval %s: must be at least %s", c.PollInterval, MinPollInterval)
	}

	switch {
	case c.PageSize == 0:
		c.PageSize = DefaultPageSize
	case c.PageSize < 0 || c.PageSize > MaxPageSize:
		return fmt.Errorf("page size %d: must be between 1 and %d", c.PageSize, MaxPageSize)
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if _, err := AddrToURL(c.HTTPAddr); err != nil {
		return fmt.Errorf("http addr: %w", err)
	}

	return nil
}

// ControlPlaneURL is the base url the cli uses to reach a running agent
func (c *Config) ControlPlaneURL() (string, error) {
	return AddrToURL(c.HTTPAddr)
}

// Save writes the config as json. Secrets are kept so the file is private to the user.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&fileConfig{Config: c, PollInterval: c.PollInterval.String()}, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	fc := &fileConfig{Config: cfg}
	if err := json.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("poll interval: %w", err)
		}
		cfg.PollInterval = d
	}
	cfg.Path = path

	return cfg, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidServerURL)
	}
	return nil
}

// AddrToURL turns a listen address into an http url. ":8080" binds all interfaces.
func AddrToURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidHTTPAddr, err)
	}
	if port == "" {
		return "", fmt.Errorf("%w: missing port", ErrInvalidHTTPAddr)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("%w: bad port %q", ErrInvalidHTTPAddr, port)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
