package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"treadle/state"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report the condition of the state store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.databasePath()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderHealthLine("Database", path, true, colorize))

			if _, err := os.Stat(path); err != nil {
				fmt.Fprintln(out, renderHealthLine("Reachable", "no ("+err.Error()+")", false, colorize))
				return fmt.Errorf("state database not found at %s", path)
			}

			writerActive, err := state.WriterActive(path)
			if err != nil {
				return err
			}
			if writerActive {
				fmt.Fprintln(out, renderHealthLine("Engine", "running (writer lock held)", true, colorize))
			} else {
				fmt.Fprintln(out, renderHealthLine("Engine", "stopped", true, colorize))
			}

			return ctx.withReadOnlyStore(func(store *state.SQLStore) error {
				summaries, err := store.ItemSummaries(cmd.Context())
				if err != nil {
					fmt.Fprintln(out, renderHealthLine("Reachable", "no ("+err.Error()+")", false, colorize))
					return err
				}

				var items, failed, review int
				for _, summary := range summaries {
					items++
					failed += summary.Failed
					review += summary.AwaitingReview
				}
				fmt.Fprintln(out, renderHealthLine("Reachable", "yes", true, colorize))
				fmt.Fprintln(out, renderHealthLine("Items", strconv.Itoa(items), true, colorize))
				fmt.Fprintln(out, renderHealthLine("Failed stages", strconv.Itoa(failed), failed == 0, colorize))
				fmt.Fprintln(out, renderHealthLine("Needs review", strconv.Itoa(review), review == 0, colorize))
				return nil
			})
		},
	}
}
