package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			rows := []table.Row{
				{"Running", status.Running},
				{"PID", status.PID},
				{"Workers", status.Workers},
				{"In flight", status.InFlight},
				{"Store", status.StorePath},
				{"Lock", status.LockPath},
			}
			if status.LastError != "" {
				rows = append(rows, table.Row{"Last error", status.LastError})
			}
			fmt.Fprintln(cmd.OutOrStdout(), pairTable("Field", rows))
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show per-stage readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([]table.Row, 0, len(report.Stages))
			for _, s := range report.Stages {
				ready := "ready"
				if !s.Ready {
					ready = "not ready"
				}
				rows = append(rows, table.Row{s.Name, ready, s.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), stageTable("State", rows))
			if !report.Ready {
				return fmt.Errorf("one or more stages are not ready")
			}
			return nil
		},
	}
}
