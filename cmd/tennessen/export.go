package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tennessen/internal/config"
	"tennessen/pkg/tennessen"
)

func (a *app) newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Write a run manifest and its tables as CSV files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return withUsage(cmd, err)
			}
			target := cfg.Output.Target()
			if target == "" {
				return withUsage(cmd, config.Invalid("output", "result file must be defined", config.ErrMissingValue))
			}
			client, err := tennessen.Open(cmd.Context(), cfg.Output.Store, target)
			if err != nil {
				return err
			}
			defer client.Close()

			req := tennessen.ExportRequest{Latest: len(args) == 0}
			if len(args) == 1 {
				req.RunID = args[0]
			}
			req.OutDir, _ = cmd.Flags().GetString("dir")
			sum, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "exported run %s to %s (%s)\n", sum.RunID, sum.Directory, strings.Join(sum.Tables, ", "))
			return nil
		},
	}
	cmd.Flags().String("dir", "exports", "directory that receives one folder per run")
	return cmd
}
