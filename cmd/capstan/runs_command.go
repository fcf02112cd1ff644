package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"capstan/internal/api"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List pipeline runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid run id %q", args[0])
				}
				item, err := client.Run(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRunDetail(item))
				return nil
			}

			runs, err := client.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRunList(runs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func renderRunList(runs []api.RunSummary) string {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			r.ID,
			r.Event,
			r.Branch,
			shortCommit(r.Commit),
			r.Status,
			r.VersionTag,
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return runListTable(rows)
}

func renderRunDetail(r api.RunSummary) string {
	var b strings.Builder

	rows := []table.Row{
		{"ID", r.ID},
		{"UUID", r.UUID},
		{"Event", r.Event},
		{"Branch", r.Branch},
		{"Commit", r.Commit},
		{"Status", r.Status},
	}
	if r.VersionTag != "" {
		rows = append(rows, table.Row{"Version tag", r.VersionTag})
	}
	if r.ArtifactDigest != "" {
		rows = append(rows, table.Row{"Digest", r.ArtifactDigest})
	}
	if r.FailureKind != "" {
		rows = append(rows, table.Row{"Failure", r.FailureKind})
	}
	if r.ErrorMessage != "" {
		rows = append(rows, table.Row{"Error", r.ErrorMessage})
	}
	b.WriteString(pairTable("Field", rows))
	b.WriteString("\n")

	stageRows := make([]table.Row, 0, len(r.Stages))
	for _, s := range r.Stages {
		stageRows = append(stageRows, table.Row{s.Name, s.Status, s.Error})
	}
	b.WriteString(stageTable("Status", stageRows))
	return b.String()
}

func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
