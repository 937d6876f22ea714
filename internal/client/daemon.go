package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clouddisk/cloudsync/internal/client/config"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// ClientDaemon runs the agent and its control plane until the context ends
type ClientDaemon struct {
	client *Client
	cps    *ControlPlaneServer
}

func NewClientDaemon(cfg *config.Config) (*ClientDaemon, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	cps := NewControlPlaneServer(&ControlPlaneConfig{
		Addr:      cfg.HTTPAddr,
		AuthToken: cfg.HTTPToken,
	}, c)
	return &ClientDaemon{
		client: c,
		cps:    cps,
	}, nil
}

func (d *ClientDaemon) Start(ctx context.Context) error {
	slog.Info("client daemon start")

	// lock and store errors are fatal before anything listens
	if err := d.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	// Create errgroup with derived context
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.cps.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		return nil
	})

	// Launch goroutine to handle shutdown on context cancellation
	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client daemon failure", "error", err)
		return err
	}

	slog.Info("client daemon stopped")
	return nil
}

func (d *ClientDaemon) Stop(ctx context.Context) error {
	defer d.client.Stop()
	if err := d.cps.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop control plane: %w", err)
	}
	return nil
}
