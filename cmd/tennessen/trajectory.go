package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tennessen/internal/demography"
	"tennessen/pkg/tennessen"
)

func (a *app) newTrajectoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trajectory",
		Short: "Print the demographic epochs or the per-generation sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return withUsage(cmd, err)
			}
			traj, err := tennessen.BuildTrajectory(cfg)
			if err != nil {
				return withUsage(cmd, err)
			}

			if sizes, _ := cmd.Flags().GetBool("sizes"); sizes {
				for g, n := range traj.Sizes {
					fmt.Fprintf(a.stdout, "%d\t%d\n", g, n)
				}
				return nil
			}
			epochs := traj.Epochs
			if schedule, _ := cmd.Flags().GetBool("schedule"); schedule {
				epochs = traj.Schedule
			}
			writeEpochTable(a, epochs, traj)
			return nil
		},
	}
	f := cmd.Flags()
	f.Bool("sizes", false, "print generation and size, one per line")
	f.Bool("schedule", false, "print the epochs a VA run snapshots instead of the demographic epochs")
	f.Uint32("final-size", demography.TennessenParams().FinalSize, "present-day population size")
	return cmd
}

func writeEpochTable(a *app, epochs []demography.Epoch, traj demography.Trajectory) {
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "epoch\tstart\tgenerations\tfrom\tto\tlaw\trate\t")
	for _, e := range epochs {
		rate := "-"
		if e.Law.Kind == demography.LawExponential {
			rate = strconv.FormatFloat(demography.GrowthRate(e.Law.From, e.Law.To, e.Length), 'f', 5, 64)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			e.Label,
			humanize.Comma(int64(e.Start)),
			humanize.Comma(int64(e.Length)),
			humanize.Comma(int64(e.Law.From)),
			humanize.Comma(int64(e.Law.To)),
			e.Law.Kind,
			rate)
	}
	fmt.Fprintf(w, "total\t\t%s\t\t\t\t\t\n", humanize.Comma(int64(traj.Len())))
	fmt.Fprintf(w, "burn-in\t\t%s\t\t\t\t\t\n", humanize.Comma(int64(traj.BurnIn())))
	_ = w.Flush()
}
