package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/triggercut/internal/store"
	"github.com/andresmejia3/triggercut/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		if err := requireDB(); err != nil {
			utils.Die("Run history unavailable", err, nil)
		}
		runs, err := DB.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			utils.Die("Failed to list runs", err, nil)
		}
		writeRuns(os.Stdout, runs)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func writeRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tVIDEO\tSTATE\tMODE\tTRIGGER\tAT\tSIMILARITY\tCREATED")
	fmt.Fprintln(w, "---\t-----\t-----\t----\t-------\t--\t----------\t-------")

	for _, r := range runs {
		at, sim := "-", "-"
		if r.Timestamp != nil {
			at = utils.FmtTime(*r.Timestamp)
		}
		if r.Similarity != nil {
			sim = fmt.Sprintf("%.3f", *r.Similarity)
		}
		label := r.TriggerLabel
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.RunID), r.VideoPath, r.State, r.Mode, label, at, sim,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
