package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capstan/internal/api"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	var eventType string
	var branch string
	var commit string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Submit a repository event to the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			created, err := client.SubmitEvent(cmd.Context(), api.EventRequest{
				Type:   eventType,
				Branch: branch,
				Commit: commit,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %d enqueued (%s on %s)\n",
				created.ID, created.Event, created.Branch)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "push", "Event type (push or pull_request)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch the event refers to")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit identifier (optional)")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}
