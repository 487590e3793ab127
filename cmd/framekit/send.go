package main

import (
	"bytes"
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/config"
	"github.com/marmos91/framekit/pkg/handlers"
	"github.com/marmos91/framekit/pkg/packet"
	"github.com/marmos91/framekit/pkg/parser"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var (
		host  string
		port  string
		count int
		size  int
		wait  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Connect to a server, send packets and print the replies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("host") {
				cfg.Client.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Client.Port = port
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			if count < 1 || size < 0 {
				return fmt.Errorf("--count must be >= 1 and --size >= 0")
			}

			payload := bytes.Repeat([]byte{'x'}, size)
			if len(args) == 1 {
				payload = []byte(args[0])
			}

			return send(cmd.Context(), cfg, payload, count, wait)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "server host")
	cmd.Flags().StringVarP(&port, "port", "p", "", "server port")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of packets to send")
	cmd.Flags().IntVar(&size, "size", 16, "payload size when no message is given")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for replies")
	return cmd
}

func send(parent context.Context, cfg *config.Config, payload []byte, count int, wait time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	var received atomic.Int64
	replies := make(chan struct{}, count)
	factory := func() parser.Parser {
		return parser.Func(func(ctx context.Context, p *packet.Packet) error {
			n := received.Add(1)
			fmt.Printf("reply %d: %d bytes: %s\n", n, p.Len(), handlers.Preview(p.Bytes(), 32))
			select {
			case replies <- struct{}{}:
			default:
			}
			return nil
		})
	}

	c := config.CreateClient(cfg, factory, m.ClientMetrics)
	if err := c.ConnectWithRetry(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Disconnect(); err != nil {
			logger.Warn("Disconnect: %v", err)
		}
	}()

	var sent int
	for i := 0; i < count; i++ {
		n, err := c.Send(packet.FromBytes(payload))
		if err != nil {
			return fmt.Errorf("send packet %d: %w", i+1, err)
		}
		sent += n
	}
	logger.Info("Sent %d packet(s), %d bytes to %s", count, sent, c.Addr())

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for i := 0; i < count; i++ {
		select {
		case <-replies:
		case <-timer.C:
			logger.Info("Received %d of %d replies before timeout", received.Load(), count)
			return nil
		case <-ctx.Done():
			return nil
		}
	}

	logger.Info("Received %d replies", received.Load())
	return nil
}
