package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootCmdConfig struct {
	verbose bool
	logger  *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cliParser().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func cliParser() *cobra.Command {
	config := &rootCmdConfig{}

	rootCmd := &cobra.Command{
		Use:   "tune",
		Short: "tune searches regression hyperparameters by cross-validation",
		Long: `A tool to tune regression learners: it searches each learner family's
hyperparameters by K-fold cross-validation on a training split, refits the
best configuration and checks it against a held-out test split`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if config.verbose {
				level = "debug"
			}

			return config.setLogger(level)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if config.logger != nil {
				_ = config.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&config.verbose, "verbose", "v", false, "log every trial")
	rootCmd.AddCommand(versionCmd(), initCmd(config), searchCmd(config), historyCmd(config))

	return rootCmd
}

// setLogger replaces the logger with a production logger at level, writing
// to stderr.
func (rcc *rootCmdConfig) setLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	rcc.logger = logger

	return nil
}
