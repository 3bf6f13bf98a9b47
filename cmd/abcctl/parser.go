package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcherclient"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/parser"
)

func newParserCmd() *cobra.Command {
	var dispatcherAddr string
	cmd := &cobra.Command{
		Use:   "parser",
		Short: "Run a parser worker",
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Claim and decompose fetched ABC tunebooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParserRun(cmd, dispatcherAddr)
		},
	}
	runCmd.Flags().StringVar(&dispatcherAddr, "dispatcher-addr", "", "dispatcher address (defaults to dispatcher.host:port from config)")
	cmd.AddCommand(runCmd)
	return cmd
}

func runParserRun(cmd *cobra.Command, dispatcherAddr string) error {
	cfg := loadConfig("parser")
	st := openStore(cfg)
	defer st.Close()

	if dispatcherAddr == "" {
		dispatcherAddr = fmt.Sprintf("%s:%d", cfg.Dispatcher.Host, cfg.Dispatcher.Port)
	}
	client := dispatcherclient.New(dispatcherAddr, cfg.Dispatcher.AckStreamDeadline)
	reg := metrics.New()
	worker := parser.New(client, st, reg, cfg.Parser.PollSleep)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("dispatcher", dispatcherAddr).Msg("parser starting")
	worker.Run(ctx)
	return nil
}
