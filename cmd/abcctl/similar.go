package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/similarity"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/vectorindex"
)

func newSimilarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similar TUNE_ID",
		Short: "Find the 10 most similar tunes to a given tune id",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimilar,
	}
}

func runSimilar(cmd *cobra.Command, args []string) error {
	tuneID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tune id %q: %w", args[0], err)
	}

	cfg := loadConfig("abcctl")
	st := openStore(cfg)
	defer st.Close()

	idx, err := vectorindex.Open(cfg.Indexer.SidecarPath, cfg.Indexer.VectorDim)
	if err != nil {
		return err
	}

	svc := similarity.New(st, idx, similarity.Config{
		PreselectK:   cfg.Indexer.PreselectK,
		DTWBand:      cfg.Indexer.DTWBand,
		VectorDim:    cfg.Indexer.VectorDim,
		WindowStride: cfg.Indexer.WindowStride,
	})

	results, err := svc.Similar(context.Background(), tuneID)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no similar tunes found")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. tune=%-8d score=%.4f title=%q key=%q rhythm=%q composer=%q\n",
			i+1, r.TuneID, r.Score, r.Title, r.Key, r.Rhythm, r.Composer)
	}
	return nil
}
