package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"treadle/state"
)

const timestampLayout = "2006-01-02 15:04:05"

func newItemsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "List all work items known to the state store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withReadOnlyStore(func(store *state.SQLStore) error {
				summaries, err := store.ItemSummaries(cmd.Context())
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No work items recorded.")
					return nil
				}

				rows := make([][]string, 0, len(summaries))
				for _, summary := range summaries {
					rows = append(rows, []string{
						summary.ItemID,
						strconv.Itoa(summary.Stages),
						strconv.Itoa(summary.Completed),
						strconv.Itoa(summary.Failed),
						strconv.Itoa(summary.AwaitingReview),
						summary.UpdatedAt.Local().Format(timestampLayout),
					})
				}
				headers := []string{"Item", "Stages", "Completed", "Failed", "Review", "Updated"}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, 1, 2, 3, 4))
				return nil
			})
		},
	}
}
