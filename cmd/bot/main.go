// Command bot runs the multi-timeframe trading bot and a few one-shot
// account and journal queries.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pvandam/mtfbot/internal/config"
)

// Exit codes: 0 ok, 1 misconfiguration, 2 runtime failure.
const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

var (
	configPath string
	log        = logrus.New()
)

func main() {
	// Missing .env is fine; real deployments use environment variables.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "bot",
		Short:         "Multi-timeframe automated trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(
		startCmd(),
		accountCmd(),
		tradesCmd(),
		statsCmd(),
		barsCmd(),
		testOrderCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitRuntime)
	}
}

// loadConfig loads and validates the config, exiting with the
// misconfiguration code on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitConfig)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.ParseLogLevel())
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.Environment.LogFile != "" {
		f, err := os.OpenFile(cfg.Environment.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Warn("cannot open log file, using stderr")
			return
		}
		log.SetOutput(f)
	}
}
