package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/clouddisk/cloudsync/internal/client/config"
	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/clouddisk/cloudsync/internal/cloudsdk"
	"github.com/clouddisk/cloudsync/internal/kvstore"
	"github.com/clouddisk/cloudsync/internal/utils"
	"github.com/clouddisk/cloudsync/internal/version"
	"github.com/denisbrodbeck/machineid"
	"github.com/gofrs/flock"
)

const (
	dbFileName   = "cloudsync.db"
	lockFileName = "cloudsync.lock"
)

var ErrAlreadyRunning = errors.New("another agent is using this data dir")

// Client is one agent: the api client, its persistent store and the sync manager
type Client struct {
	config *config.Config
	sdk    *cloudsdk.Client
	store  *kvstore.SqliteStore
	lock   *flock.Flock
	sync   *sync.SyncManager

	startedAt time.Time
}

func New(cfg *config.Config) (*Client, error) {
	sdk, err := cloudsdk.New(&cloudsdk.Config{
		BaseURL:     cfg.ServerURL,
		AccessToken: cfg.AccessToken,
		DeviceID:    deviceID(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sdk: %w", err)
	}

	store := kvstore.NewSqliteStore(filepath.Join(cfg.DataDir, dbFileName))

	mgr := sync.NewManager(sdk, store,
		sync.WithSyncDir(cfg.SyncDir),
		sync.WithRemoteRoot(cfg.RemoteRoot),
		sync.WithPollInterval(cfg.PollInterval),
		sync.WithPageSize(cfg.PageSize),
	)

	return &Client{
		config: cfg,
		sdk:    sdk,
		store:  store,
		lock:   flock.New(filepath.Join(cfg.DataDir, lockFileName)),
		sync:   mgr,
	}, nil
}

// Start takes the data dir lock, opens the store and starts syncing when a sync dir
// is configured. A failing sync start is logged and kept in the sync status, the
// agent stays up so it can be inspected and restarted through the control plane.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("cloudsync client start", "datadir", c.config.DataDir, "syncdir", c.config.SyncDir, "server", c.config.ServerURL)

	if err := utils.EnsureDir(c.config.DataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	locked, err := c.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, c.config.DataDir)
	}

	if err := c.store.Open(); err != nil {
		_ = c.lock.Unlock()
		return err
	}
	c.startedAt = time.Now()

	if c.config.SyncDir == "" {
		slog.Warn("no sync dir configured, sync not started")
		return nil
	}

	if _, err := c.sync.Start(ctx); err != nil {
		slog.Error("sync start", "error", err)
	}
	return nil
}

func (c *Client) Stop() {
	c.sync.Close()
	if err := c.store.Close(); err != nil && !errors.Is(err, kvstore.ErrNotOpen) {
		slog.Warn("kv store close", "error", err)
	}
	c.sdk.Close()
	if err := c.lock.Unlock(); err != nil {
		slog.Warn("data dir unlock", "error", err)
	}
	slog.Info("cloudsync client stop")
}

func (c *Client) Sync() *sync.SyncManager {
	return c.sync
}

func (c *Client) GetStatus() sync.Status {
	return c.sync.GetStatus()
}

func (c *Client) APIStats() cloudsdk.HTTPStats {
	return c.sdk.Stats()
}

func (c *Client) StartedAt() time.Time {
	return c.startedAt
}

// deviceID is stable per machine and never exposes the raw machine id
func deviceID() string {
	id, err := machineid.ProtectedID(strings.ToLower(version.AppName))
	if err != nil {
		slog.Debug("machine id unavailable", "error", err)
		return ""
	}
	return id
}
