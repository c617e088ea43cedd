package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/streetpano/measuresync/internal/export"
	"github.com/streetpano/measuresync/pkg/core"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export [layer featureID]",
	Short: "Write stored measurements as KML",
	Long: `Export reads measurements from the configured storage backend and writes
them as KML in WGS84. Without arguments every stored measurement is exported.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return nil
		}
		if err := cobra.ExactArgs(2)(cmd, args); err != nil {
			return err
		}
		_, err := strconv.ParseInt(args[1], 10, 64)
		return err
	},
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	w := cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if len(args) == 0 {
		return export.All(cmd.Context(), w, a.store, "measurements", a.projector)
	}
	id, _ := strconv.ParseInt(args[1], 10, 64)
	return export.Target(cmd.Context(), w, a.store, core.TargetBinding{Layer: args[0], FeatureID: id}, a.projector)
}
