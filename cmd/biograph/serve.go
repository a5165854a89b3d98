package main

import (
	"github.com/spf13/cobra"

	"biograph/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over HTTP and websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			return a.Serve(cmd.Context(), serveAddr)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to the configured port)")
}
