package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcher"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/hostregistry"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/httpapi"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
)

func newDispatcherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Run the dispatcher server",
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve claim/submit requests over TCP",
		RunE:  runDispatcherServe,
	}
	cmd.AddCommand(serveCmd)
	return cmd
}

func runDispatcherServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig("dispatcher")

	st := openStore(cfg)
	defer st.Close()

	hosts := hostregistry.New(st, cfg.Dispatcher.HostCooldown, cfg.Dispatcher.HostTimeoutGrace)
	reg := metrics.New()

	srv := dispatcher.New(st, hosts, reg, dispatcher.Config{
		DispatchTimeout:  cfg.Dispatcher.DispatchTimeout,
		ParsingTimeout:   cfg.Dispatcher.StaleClaimResetHorizon,
		HostCooldown:     cfg.Dispatcher.HostCooldown,
		MaxRetries:       cfg.Dispatcher.MaxRetries,
		CandidateWindow:  cfg.Dispatcher.CandidateWindow,
		FetchedBatchSize: cfg.Dispatcher.ParserBatch,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.RecoverStale(ctx); err != nil {
		log.Error().Err(err).Msg("stale recovery failed")
	}

	if cfg.Dispatcher.FetcherLogPath != "" {
		go srv.RunLogScanner(ctx, cfg.Dispatcher.FetcherLogPath, cfg.Dispatcher.LogScanInterval)
	}
	go srv.RunHostReenabler(ctx, cfg.Dispatcher.ReenableCheckInterval)

	livenessCfg := httpapi.DefaultConfig()
	livenessCfg.Addr = fmt.Sprintf("%s:%d", cfg.Liveness.Host, cfg.Liveness.Port)
	liveness := httpapi.New(livenessCfg, nil)
	go func() {
		if err := liveness.ListenAndServe(ctx); err != nil {
			log.Error().Err(err).Msg("liveness server stopped")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Dispatcher.Host, cfg.Dispatcher.Port)
	log.Info().Str("addr", addr).Msg("dispatcher starting")
	return srv.ListenAndServe(ctx, addr)
}
