package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"text/tabwriter"

	"github.com/andresmejia3/triggercut/internal/pipeline"
	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/andresmejia3/triggercut/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var batchOpts Options

var batchCmd = &cobra.Command{
	Use:   "batch [flags] video...",
	Short: "Cut many videos with parallel engines",
	Long: `Runs the cut pipeline over every video with a pool of engines. Each result is
written to <output>/edited_<video name>. A video that fails never stops the others.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runBatch(cmd.Context(), batchOpts, args)
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchOpts.OutputPath, "output", "o", "", "Directory for the cut videos")
	batchCmd.Flags().IntVarP(&batchOpts.NumEngines, "engines", "e", 0, "Number of parallel engine workers (default: TRIGGERCUT_WORKERS or one per CPU)")
	addTriggerFlags(batchCmd, &batchOpts)

	batchCmd.MarkFlagRequired("output")
	batchCmd.MarkFlagRequired("trigger")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(ctx context.Context, opts Options, videos []string) {
	if err := validateBatchFlags(&opts, videos); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}

	set, err := loadTriggers(os.Stderr, opts.Triggers, defaultThreshold(opts))
	if err != nil {
		utils.Die("Failed to load trigger images", err, nil)
	}
	mode, _ := types.ParseCutMode(opts.Mode)

	engines := opts.NumEngines
	if engines == 0 {
		engines = cfg.Workers
	}
	if engines == 0 {
		engines = runtime.GOMAXPROCS(0)
	}

	fmt.Fprintf(os.Stderr, "📼 Processing %d videos into %s\n", len(videos), opts.OutputPath)
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", engines)

	// Frame bars from concurrent videos would interleave; per-video progress is logged instead.
	proc := newProcessor(opts, set, mode)
	proc.Progress = newFrameProgress(logger, false).Update

	tty := isTerminal(os.Stderr)
	bar := progressbar.NewOptions(len(videos),
		progressbar.OptionSetDescription("🎬 Videos"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(tty),
	)

	reports := pipeline.Batch(ctx, proc, videos, opts.OutputPath, engines, func(r *pipeline.Report) {
		bar.Add(1)
	})
	bar.Finish()

	fmt.Fprintln(os.Stderr)
	failed := printBatchSummary(os.Stderr, reports)
	if failed > 0 {
		utils.Die("Batch finished with failures", fmt.Errorf("%d of %d videos failed", failed, len(reports)), nil)
	}
}

// validateBatchFlags checks the batch arguments. Missing videos are not an
// error here; they fail individually so the rest of the batch still runs.
func validateBatchFlags(opts *Options, videos []string) error {
	if len(videos) == 0 {
		return errors.New("at least one video is required")
	}
	if opts.OutputPath == "" {
		return errors.New("output directory is required")
	}
	if info, err := os.Stat(opts.OutputPath); err == nil && !info.IsDir() {
		return fmt.Errorf("output %s is a file, expected a directory", opts.OutputPath)
	}
	if opts.NumEngines < 0 {
		return fmt.Errorf("engines must be >= 0, got %d", opts.NumEngines)
	}
	seen := make(map[string]string, len(videos))
	for _, v := range videos {
		name := pipeline.OutputName(v)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%s and %s would both be written to %s", prev, v, name)
		}
		seen[name] = v
	}
	return validateTriggerFlags(opts)
}

// printBatchSummary writes one row per video and returns how many failed.
// Videos without a trigger are not failures.
func printBatchSummary(w io.Writer, reports []*pipeline.Report) int {
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 BATCH SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "VIDEO\tSTATE\tTRIGGER\tAT\tRESULT")
	fmt.Fprintln(tw, "-----\t-----\t-------\t--\t------")

	counts := make(map[pipeline.State]int)
	for _, r := range reports {
		counts[r.State]++
		label, at := "-", "-"
		if r.Detection != nil && r.Detection.Match != nil {
			label = r.Detection.Match.TriggerLabel
			at = utils.FmtTime(r.Detection.Match.Timestamp)
		}
		result := r.OutputPath
		if r.State != pipeline.Done && r.Err != nil {
			result = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", filepath.Base(r.VideoPath), r.State, label, at, result)
	}
	tw.Flush()

	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "🏁 %d done, %d without trigger, %d failed\n", counts[pipeline.Done], counts[pipeline.Aborted], counts[pipeline.Failed])
	return counts[pipeline.Failed]
}
