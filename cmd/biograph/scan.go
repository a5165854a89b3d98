package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"biograph/internal/app"
	"biograph/internal/session"
	"biograph/internal/types"
)

var (
	scanMode   string
	scanTarget string
	scanSmiles string
	scanFile   string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan and print the result",
	Long: `Runs a single scan against the analysis service and prints the result as JSON.

Examples:
  biograph scan --target 6LU7 --smiles CCO
  biograph scan --mode auto --target 6LU7
  biograph scan --mode upload --target 6LU7 --file library.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			return runScan(cmd, a)
		})
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanMode, "mode", string(types.ModeManual), "analysis mode: manual, auto or upload")
	scanCmd.Flags().StringVar(&scanTarget, "target", "", "target protein id")
	scanCmd.Flags().StringVar(&scanSmiles, "smiles", "", "molecule SMILES (manual mode)")
	scanCmd.Flags().StringVar(&scanFile, "file", "", "molecule library file (upload mode)")
}

func runScan(cmd *cobra.Command, a *app.App) error {
	s := a.Session
	if err := s.ChangeMode(types.Mode(scanMode)); err != nil {
		return err
	}
	s.SetTargetID(scanTarget)
	s.SetSmiles(scanSmiles)
	if scanFile != "" {
		content, err := os.ReadFile(scanFile)
		if err != nil {
			return fmt.Errorf("read %s: %w", scanFile, err)
		}
		s.SetFile(&types.Upload{Name: filepath.Base(scanFile), Content: content})
	}

	done, err := s.StartScan(cmd.Context())
	if err != nil {
		return err
	}
	select {
	case <-done:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	st := s.State()
	switch st.Phase {
	case session.PhaseFailed:
		return errors.New(st.LastError)
	case session.PhaseCompleteBatch:
		return printJSON(cmd.OutOrStdout(), types.BatchView(st.Batch.Entries, s.Threshold()))
	default:
		return printJSON(cmd.OutOrStdout(), st.Result)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
