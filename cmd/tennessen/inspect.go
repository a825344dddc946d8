package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tennessen/internal/config"
	"tennessen/pkg/tennessen"
)

func (a *app) newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [table]",
		Short: "List result tables and runs, or print the rows of one table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return withUsage(cmd, err)
			}
			target := cfg.Output.Target()
			if target == "" && cfg.Output.Store != "memory" {
				return withUsage(cmd, config.Invalid("output", "result file must be defined", config.ErrMissingValue))
			}
			client, err := tennessen.Open(cmd.Context(), cfg.Output.Store, target)
			if err != nil {
				return err
			}
			defer client.Close()

			if len(args) == 1 {
				limit, _ := cmd.Flags().GetInt("limit")
				return a.printRows(cmd, client, args[0], limit)
			}
			if runs, _ := cmd.Flags().GetBool("runs"); runs {
				return a.printRuns(cmd, client)
			}
			return a.printTables(cmd, client)
		},
	}
	cmd.Flags().Int("limit", 20, "rows to print; 0 prints all")
	cmd.Flags().Bool("runs", false, "print run manifests as JSON")
	return cmd
}

func (a *app) printTables(cmd *cobra.Command, client *tennessen.Client) error {
	tables, err := client.Tables(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "table\trows\tcolumns")
	for _, t := range tables {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, humanize.Comma(int64(t.Rows)), strings.Join(t.Columns, ","))
	}
	return w.Flush()
}

func (a *app) printRows(cmd *cobra.Command, client *tennessen.Client, table string, limit int) error {
	rows, err := client.Rows(cmd.Context(), table)
	if err != nil {
		return err
	}
	n := rows.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(rows.Columns, "\t"))
	for _, row := range rows.Rows[:n] {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strconv.FormatFloat(v, 'g', 6, 64)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if n < rows.Len() {
		fmt.Fprintf(a.stdout, "... %s more rows\n", humanize.Comma(int64(rows.Len()-n)))
	}
	return nil
}

func (a *app) printRuns(cmd *cobra.Command, client *tennessen.Client) error {
	runs, err := client.Runs(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
