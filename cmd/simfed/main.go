// Command simfed runs the daemons of a distributed simulation: the RTI hub
// federates connect to, and the forwarder bridging two federation networks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SimFed/internal/config"
	"SimFed/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string // configPath is the YAML configuration file, empty for defaults
	logLevel   string // logLevel overrides the file's log level
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "simfed",
		Short:         "Distributed simulation runtime infrastructure",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newRTICommand(g), newForwardCommand(g))

	return root
}

// load reads the configuration, applies the global overrides and installs the logger.
func (g *globalFlags) load() (config.Config, error) {
	cfg := config.Default()

	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, err
		}
	}

	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger.Init(logger.Options{Level: cfg.LogLevel})

	return cfg, nil
}
