package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Inspect and manage per-host disable state",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all known hosts",
		RunE:  runHostList,
	}

	var disableReason string
	disableCmd := &cobra.Command{
		Use:   "disable HOST",
		Short: "Manually disable a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHostDisable(cmd, args[0], disableReason)
		},
	}
	disableCmd.Flags().StringVar(&disableReason, "reason", "manual", "disable reason")

	enableCmd := &cobra.Command{
		Use:   "enable HOST",
		Short: "Re-enable a disabled host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHostEnable(cmd, args[0])
		},
	}

	cmd.AddCommand(listCmd, disableCmd, enableCmd)
	return cmd
}

func runHostList(cmd *cobra.Command, args []string) error {
	cfg := loadConfig("abcctl")
	st := openStore(cfg)
	defer st.Close()

	hosts, err := st.ListHosts(context.Background())
	if err != nil {
		return err
	}
	for _, h := range hosts {
		status := "enabled"
		if h.Disabled {
			status = "disabled:" + h.DisabledReason.String
		}
		fmt.Printf("%-40s downloads=%-8d %s\n", h.Host, h.Downloads, status)
	}
	return nil
}

func runHostDisable(cmd *cobra.Command, host, reason string) error {
	cfg := loadConfig("abcctl")
	st := openStore(cfg)
	defer st.Close()

	if err := st.DisableHost(context.Background(), host, reason); err != nil {
		return err
	}
	fmt.Printf("disabled %s (%s)\n", host, reason)
	return nil
}

func runHostEnable(cmd *cobra.Command, host string) error {
	cfg := loadConfig("abcctl")
	st := openStore(cfg)
	defer st.Close()

	if err := st.EnableHost(context.Background(), host); err != nil {
		return err
	}
	fmt.Printf("enabled %s\n", host)
	return nil
}
