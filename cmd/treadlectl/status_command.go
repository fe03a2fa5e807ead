package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"treadle/state"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <item>",
		Short: "Show the stage and subtask records for one work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID := args[0]
			return ctx.withReadOnlyStore(func(store *state.SQLStore) error {
				records, err := store.StageRecords(cmd.Context(), itemID)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return fmt.Errorf("no records for item %s", itemID)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				rows := make([][]string, 0, len(records))
				for _, record := range records {
					rows = append(rows, []string{
						record.Stage,
						renderStatus(record.Status, colorize),
						strconv.Itoa(record.Attempts),
						record.LastError,
						record.UpdatedAt.Local().Format(timestampLayout),
					})
				}
				headers := []string{"Stage", "Status", "Attempts", "Last Error", "Updated"}
				fmt.Fprintln(out, renderTable(headers, rows, 2))

				for _, record := range records {
					subtasks, err := store.SubTaskRecords(cmd.Context(), itemID, record.Stage)
					if err != nil {
						return err
					}
					if len(subtasks) == 0 {
						continue
					}
					fmt.Fprintf(out, "\nSubtasks of %s:\n", record.Stage)
					subRows := make([][]string, 0, len(subtasks))
					for _, subtask := range subtasks {
						subRows = append(subRows, []string{
							subtask.Name,
							renderStatus(subtask.Status, colorize),
							strconv.Itoa(subtask.Attempts),
							subtask.LastError,
						})
					}
					subHeaders := []string{"Subtask", "Status", "Attempts", "Last Error"}
					fmt.Fprintln(out, renderTable(subHeaders, subRows, 2))
				}
				return nil
			})
		},
	}
}
