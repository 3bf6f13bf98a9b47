package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcherclient"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/indexer"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/vectorindex"
)

func newIndexerCmd() *cobra.Command {
	var dispatcherAddr string
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Run an indexer worker",
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Claim tunebooks, compute intervals, and add vectors to the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexerRun(cmd, dispatcherAddr)
		},
	}
	runCmd.Flags().StringVar(&dispatcherAddr, "dispatcher-addr", "", "dispatcher address (defaults to dispatcher.host:port from config)")
	cmd.AddCommand(runCmd)
	return cmd
}

func runIndexerRun(cmd *cobra.Command, dispatcherAddr string) error {
	cfg := loadConfig("indexer")
	st := openStore(cfg)
	defer st.Close()

	idx, err := vectorindex.Open(cfg.Indexer.SidecarPath, cfg.Indexer.VectorDim)
	if err != nil {
		return err
	}

	if err := indexer.Reconcile(context.Background(), st, idx); err != nil {
		return fmt.Errorf("failed to reconcile vector index against faiss mapping: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	if dispatcherAddr == "" {
		dispatcherAddr = fmt.Sprintf("%s:%d", cfg.Dispatcher.Host, cfg.Dispatcher.Port)
	}
	client := dispatcherclient.New(dispatcherAddr, cfg.Dispatcher.AckStreamDeadline)
	reg := metrics.New()
	worker := indexer.New(client, st, idx, rdb, reg, indexer.Config{
		MaxInterval:  cfg.Indexer.MaxInterval,
		VectorDim:    cfg.Indexer.VectorDim,
		WindowStride: cfg.Indexer.WindowStride,
		Idle:         cfg.Indexer.PollSleep,
		LockKey:      cfg.Redis.LockKey,
		LockTTL:      cfg.Redis.LockTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("dispatcher", dispatcherAddr).Int("vectors", idx.Count()).Msg("indexer starting")
	worker.Run(ctx)
	return nil
}
