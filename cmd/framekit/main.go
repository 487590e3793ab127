package main

import (
	"fmt"
	"os"

	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time with -ldflags.
	Version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "framekit",
		Short:         "Length-prefixed TCP packet server and client",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("config file (default %s)", config.GetDefaultConfigPath()))

	rootCmd.AddCommand(newInitCmd(), newServeCmd(), newSendCmd(), newJournalCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.GetDefaultConfigPath()
			}

			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
