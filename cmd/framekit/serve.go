package main

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"

	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/config"
	"github.com/marmos91/framekit/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		host    string
		port    string
		handler string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the packet server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Flags take precedence over file and environment
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("handler") {
				cfg.Handler.Type = handler
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "interface to bind")
	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on")
	cmd.Flags().StringVar(&handler, "handler", "", "packet handler (echo, discard, log, record)")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	handler, err := config.CreatePacketHandler(ctx, &cfg.Handler)
	if err != nil {
		return err
	}
	if closer, ok := handler.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close %s handler: %v", cfg.Handler.Type, err)
			}
		}()
	}

	srv := server.New(cfg.Server, handler, m.ServerMetrics)

	logger.Info("Starting framekit server (handler=%s, lock=%s, byte_order=%s)",
		cfg.Handler.Type, cfg.Server.LockPolicy, cfg.Server.ByteOrder)

	g, ctx := errgroup.WithContext(ctx)

	if m.Server != nil {
		g.Go(func() error {
			return m.Server.Start(ctx)
		})
	}

	g.Go(func() error {
		return srv.Serve(ctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error("Server stopped: %v", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}
