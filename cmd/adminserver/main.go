package main

import (
	"admin_service/internal/config"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	appName = "admin_service"
)

var (
	configPath  string
	envFilePath string
)

var rootCmd = &cobra.Command{
	Use:           "adminserver",
	Short:         "Account administration service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFilePath, "env-file", ".env", "optional .env file loaded before the environment is read")
	rootCmd.AddCommand(serveCmd, tokenCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(envFilePath); err != nil {
		return config.Config{}, err
	}
	return config.Load(configPath)
}

func setupLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("app", appName)), nil
}
