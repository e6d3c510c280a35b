package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/engramhq/engram"
	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/internal/mylog"
	"github.com/spf13/cobra"
)

var rootFlags = struct {
	configFile string
	dbPath     string
	logLevel   string
}{}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "engram",
		Short:        "Memory core for retrieval-augmented assistants",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&rootFlags.configFile, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&rootFlags.dbPath, "db", "engram.db", "SQLite database path")
	cmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newIngestCmd(),
		newRecallCmd(),
		newAssembleCmd(),
		newMaintainCmd(),
		newReconstructCmd(),
		newRebuildCmd(),
		newStatsCmd(),
		newFocusCmd(),
	)

	return cmd
}

// openEngram builds one Engram from the root flags: config file overlays the
// defaults, then flags overlay the file.
func openEngram() (*engram.Engram, *config.Config, error) {
	conf := config.NewConfig()
	if rootFlags.configFile != "" {
		loaded, err := config.LoadFile(rootFlags.configFile)
		if err != nil {
			return nil, nil, err
		}
		conf = loaded
	}
	if rootFlags.dbPath != "" {
		conf.Store.SqlitePath = rootFlags.dbPath
	}
	if rootFlags.logLevel != "" {
		conf.Log.LogLevel = rootFlags.logLevel
	}

	e, err := engram.New(
		engram.WithConfig(conf),
		engram.WithLogger(mylog.NewLogger(conf.Log.LogLevel, conf.Log.LogHandler)),
	)
	if err != nil {
		return nil, nil, err
	}
	return e, conf, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
