package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete parsed non-ABC URLs past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd, retention)
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 30*24*time.Hour, "minimum age of non-ABC URLs eligible for deletion")
	return cmd
}

func runPurge(cmd *cobra.Command, retention time.Duration) error {
	cfg := loadConfig("abcctl")
	st := openStore(cfg)
	defer st.Close()

	n, err := st.PurgeNonABC(context.Background(), retention)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d non-ABC urls\n", n)
	return nil
}
