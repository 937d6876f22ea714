package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/clouddisk/cloudsync/internal/client/middleware"
	"github.com/clouddisk/cloudsync/internal/utils"
)

type ControlPlaneServer struct {
	config *ControlPlaneConfig
	server *http.Server
}

func NewControlPlaneServer(config *ControlPlaneConfig, c *Client) *ControlPlaneServer {
	routes := SetupRoutes(c, &RouteConfig{
		Auth: middleware.TokenAuthConfig{
			Token: config.AuthToken,
		},
	})

	httpServer := &http.Server{
		Addr:    config.Addr,
		Handler: routes,
		// Timeouts to prevent slow client attacks. No write timeout, event streams are long lived.
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Connection control
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// request contexts end on shutdown so open event streams return
	baseCtx, cancel := context.WithCancel(context.Background())
	httpServer.BaseContext = func(net.Listener) context.Context { return baseCtx }
	httpServer.RegisterOnShutdown(cancel)

	return &ControlPlaneServer{
		config: config,
		server: httpServer,
	}
}

// Start blocks until the server is shut down
func (s *ControlPlaneServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

func (s *ControlPlaneServer) Serve(ln net.Listener) error {
	slog.Info("control plane start", "addr", fmt.Sprintf("http://%s", ln.Addr()), "token", utils.MaskSecret(s.config.AuthToken))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *ControlPlaneServer) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}
