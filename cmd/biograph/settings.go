package main

import (
	"github.com/spf13/cobra"

	"biograph/internal/app"
	"biograph/internal/settings"
)

var (
	setThreshold    float64
	setHistoryLimit int
	setView         string
	setQuality      string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change persisted settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			return printJSON(cmd.OutOrStdout(), a.Settings.Current())
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings",
	Long: `Changes the given settings and keeps the rest.

Example:
  biograph settings set --threshold 8 --history-limit 25`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			next := a.Settings.Current()
			flags := cmd.Flags()
			if flags.Changed("threshold") {
				next.Threshold = setThreshold
			}
			if flags.Changed("history-limit") {
				next.HistoryLimit = setHistoryLimit
			}
			if flags.Changed("view") {
				next.DefaultView = settings.View(setView)
			}
			if flags.Changed("quality") {
				next.RenderQuality = settings.Quality(setQuality)
			}
			applied, err := a.Settings.Update(cmd.Context(), next)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), applied)
		})
	},
}

func init() {
	f := settingsSetCmd.Flags()
	f.Float64Var(&setThreshold, "threshold", 0, "activity threshold (5-10)")
	f.IntVar(&setHistoryLimit, "history-limit", 0, "history capacity (1-50)")
	f.StringVar(&setView, "view", "", "default view: surface, cartoon or ligand")
	f.StringVar(&setQuality, "quality", "", "graphics quality: low or high")
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}
