package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"treadle/state"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <item> <stage>",
		Short: "Approve a stage that is waiting on human review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, stg := args[0], args[1]
			return ctx.withStore(func(store *state.SQLStore) error {
				record, err := store.StageRecord(cmd.Context(), itemID, stg)
				if err != nil {
					return err
				}
				if record == nil {
					return fmt.Errorf("no record for item %s stage %s", itemID, stg)
				}
				if record.Status != state.StatusAwaitingReview {
					return fmt.Errorf("stage %s of item %s is %s, not %s", stg, itemID, record.Status, state.StatusAwaitingReview)
				}

				record.Status = state.StatusCompleted
				record.LastError = ""
				record.UpdatedAt = time.Now().UTC()
				if err := store.UpsertStageRecord(cmd.Context(), record); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Approved %s for item %s.\n", stg, itemID)
				return nil
			})
		},
	}
}
