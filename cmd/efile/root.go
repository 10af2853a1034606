package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"efile/internal/platform/config"
	"efile/internal/platform/logger"
)

const programName = "efile"

// cli carries what every command shares once the root has run.
type cli struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          programName,
		Short:        "Individual income tax e-file pipeline",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.logLevel != "" {
				cfg.Logging.Level = c.logLevel
			}
			c.cfg = cfg
			// stdout is reserved for command output
			c.logger = logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format).
				With("component", programName)
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		c.serveCommand(),
		c.keysCommand(),
		c.schemaCommand(),
		c.submitCommand(),
		c.amendCommand(),
		c.sampleCommand(),
		c.statusCommand(),
	)
	return root
}
