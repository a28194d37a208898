package main

import (
	"fmt"
	"os"

	"advisory-service/internal/config"
	"advisory-service/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "advisory-service"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Weather-driven advisory rule evaluation and delivery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(simulateCmd())
	cmd.AddCommand(sweepCmd())
	cmd.AddCommand(reportCmd())
	cmd.AddCommand(ruleCmd())
	cmd.AddCommand(logsCmd())
	cmd.AddCommand(bulletinsCmd())
	cmd.AddCommand(contentCmd())
	return cmd
}

// loadConfig reads the environment and the optional thresholds file.
func loadConfig() (*config.AdvisoryServiceConfig, error) {
	cfg := config.New()
	if err := cfg.LoadThresholds(); err != nil {
		return nil, fmt.Errorf("failed to load signal thresholds: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.AdvisoryServiceConfig) (*zap.Logger, func(), error) {
	log, closeFile, err := logger.New(logger.OptionsForEnv(cfg.AppEnv, cfg.LogLevel, cfg.LogDir, serviceName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	cleanup := func() {
		_ = log.Sync()
		_ = closeFile()
	}
	return log, cleanup, nil
}
