package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"biograph/internal/app"
)

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the scan history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded results, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			entries := a.History.Entries()
			if historyJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTARGET\tSCORE\tSTATUS\tRECORDED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
					e.ID, e.Name, e.TargetID, e.Score, e.Status, e.Timestamp.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every history entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.Session.ClearHistory(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
			return nil
		})
	},
}

func init() {
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "print entries as JSON")
	historyCmd.AddCommand(historyListCmd, historyClearCmd)
}
