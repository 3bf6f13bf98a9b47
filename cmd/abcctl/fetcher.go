package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcherclient"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/fetcher"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
)

func newFetcherCmd() *cobra.Command {
	var dispatcherAddr string
	cmd := &cobra.Command{
		Use:   "fetcher",
		Short: "Run a fetcher worker",
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Claim and fetch URLs from the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetcherRun(cmd, dispatcherAddr)
		},
	}
	runCmd.Flags().StringVar(&dispatcherAddr, "dispatcher-addr", "", "dispatcher address (defaults to dispatcher.host:port from config)")
	cmd.AddCommand(runCmd)
	return cmd
}

func runFetcherRun(cmd *cobra.Command, dispatcherAddr string) error {
	cfg := loadConfig("fetcher")
	st := openStore(cfg)
	defer st.Close()

	if dispatcherAddr == "" {
		dispatcherAddr = fmt.Sprintf("%s:%d", cfg.Dispatcher.Host, cfg.Dispatcher.Port)
	}
	client := dispatcherclient.New(dispatcherAddr, cfg.Fetcher.RequestTimeout)
	reg := metrics.New()
	worker := fetcher.New(client, st, reg, fetcher.Config{
		RequestTimeout:  cfg.Fetcher.RequestTimeout,
		RobotsTimeout:   cfg.Fetcher.RequestTimeout,
		RobotsCacheTTL:  cfg.Fetcher.RobotsCacheTTL,
		MaxLinkDistance: cfg.Fetcher.MaxLinkDistance,
		HostRPS:         cfg.Fetcher.RateLimitRPS,
		HostBurst:       cfg.Fetcher.RateLimitBurst,
		BreakerFailures: cfg.Fetcher.BreakerFailures,
		BreakerTimeout:  cfg.Fetcher.BreakerTimeout,
		UserAgent:       cfg.Fetcher.UserAgent,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("dispatcher", dispatcherAddr).Msg("fetcher starting")
	worker.Run(ctx, cfg.Fetcher.PollSleep)
	return nil
}
