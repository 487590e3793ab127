package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/marmos91/framekit/pkg/handlers"
	"github.com/marmos91/framekit/pkg/journal"
	"github.com/spf13/cobra"
)

func newJournalCmd() *cobra.Command {
	var preview int

	cmd := &cobra.Command{
		Use:   "journal <path> [session-id]",
		Short: "List the sessions of a packet journal, or print the packets of one session",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			store, err := journal.Open(ctx, journal.Config{Path: args[0]})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				return listSessions(ctx, store)
			}

			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", args[1], err)
			}
			return store.Packets(ctx, id, func(seq uint64, payload []byte) error {
				fmt.Printf("%6d  %6d bytes  %s\n", seq, len(payload), handlers.Preview(payload, preview))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&preview, "preview", 32, "payload bytes to print per packet")
	return cmd
}

func listSessions(ctx context.Context, store *journal.Store) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		fmt.Printf("%s  %s  %-21s  %d packet(s), %d bytes\n",
			s.ID, s.Started.Format("2006-01-02 15:04:05"), s.RemoteAddr, s.Packets, s.Bytes)
	}
	return nil
}
