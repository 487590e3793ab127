package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/framekit/pkg/client"
	"github.com/marmos91/framekit/pkg/handlers"
	"github.com/marmos91/framekit/pkg/metrics"
	"github.com/marmos91/framekit/pkg/parser"
	"github.com/marmos91/framekit/pkg/server"
	"github.com/mitchellh/mapstructure"
)

// CreatePacketHandler creates the server packet handler selected by configuration.
//
// The Options map is decoded into handlers.Options; durations may be given as
// strings ("250ms") or as integer nanoseconds.
//
// Supported types:
//   - "echo": sends every packet back to its sender
//   - "discard": drops every packet
//   - "log": logs a hex preview of every packet
//   - "record": stores every packet in a journal
//
// Handlers that implement io.Closer hold resources and must be closed by the
// caller once the server has stopped.
func CreatePacketHandler(ctx context.Context, cfg *HandlerConfig) (server.PacketHandler, error) {
	opts, err := decodeHandlerOptions(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("invalid %s handler options: %w", cfg.Type, err)
	}

	switch cfg.Type {
	case handlers.TypeEcho:
		return handlers.NewEcho(opts), nil
	case handlers.TypeDiscard:
		return handlers.NewDiscard(opts), nil
	case handlers.TypeLog:
		return handlers.NewLog(opts), nil
	case handlers.TypeRecord:
		h, err := handlers.NewRecord(ctx, opts)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown handler type: %q", cfg.Type)
	}
}

func decodeHandlerOptions(options map[string]any) (handlers.Options, error) {
	var opts handlers.Options

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return opts, err
	}

	if err := decoder.Decode(options); err != nil {
		return opts, err
	}

	if opts.CloseAfter < 0 || opts.Delay < 0 || opts.PreviewBytes < 0 {
		return opts, errors.New("handler options must not be negative")
	}

	return opts, nil
}

// CreateClient builds a packet client from configuration.
//
// The client is returned unconnected; call Connect or ConnectWithRetry.
func CreateClient(cfg *Config, factory parser.Factory, m metrics.ClientMetrics, opts ...client.Option) *client.Client {
	return client.New(cfg.Client, factory, m, opts...)
}
