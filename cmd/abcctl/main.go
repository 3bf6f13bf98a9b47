// Command abcctl is the operator entrypoint for every abc-pipeline
// daemon and maintenance task: a cobra root with one subcommand per
// daemon and admin task.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/config"
	pipelinelog "github.com/mark-vandenbroeck/abc-pipeline/internal/log"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
)

const appName = "abcctl"

var (
	configPath string
	envFile    string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "abc-pipeline: distributed ABC-notation crawl, parse, index and similarity search",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (defaults baked in if omitted)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file to load before reading config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "zerolog level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newDispatcherCmd(),
		newFetcherCmd(),
		newParserCmd(),
		newIndexerCmd(),
		newHostCmd(),
		newSimilarCmd(),
		newPurgeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(component string) config.Config {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		// Logger isn't configured yet; fall back to a bare stderr write.
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// The fetcher also writes to the path the dispatcher's log scanner
	// tails for DNS-resolution failures, alongside its normal stderr output.
	logFile := ""
	if component == "fetcher" {
		logFile = cfg.Dispatcher.FetcherLogPath
	}
	if err := pipelinelog.Setup(component, logLevel, logFile); err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		os.Exit(1)
	}
	return cfg
}

func openStore(cfg config.Config) *store.Store {
	st, err := store.Open(cfg.Postgres.DSN, cfg.Postgres.QueryTimeout, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnMaxLifetime)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	return st
}
