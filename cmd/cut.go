package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/triggercut/internal/logging"
	"github.com/andresmejia3/triggercut/internal/metrics"
	"github.com/andresmejia3/triggercut/internal/pipeline"
	"github.com/andresmejia3/triggercut/internal/planner"
	"github.com/andresmejia3/triggercut/internal/transcode"
	"github.com/andresmejia3/triggercut/internal/trigger"
	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/andresmejia3/triggercut/internal/utils"
	"github.com/andresmejia3/triggercut/internal/video"
	"github.com/spf13/cobra"
)

var cutOpts Options

var cutCmd = &cobra.Command{
	Use:   "cut",
	Short: "Cut a video at the first frame matching a trigger image",
	Long: `Scans the video frame by frame and stops at the first frame whose similarity
to any trigger image reaches that trigger's threshold.

  --mode after   keeps everything before the trigger   [0, trigger)
  --mode before  keeps the trigger and everything after [trigger, end)

The cut is a stream copy; nothing is re-encoded.`,
	Run: func(cmd *cobra.Command, args []string) {
		runCut(cmd.Context(), cutOpts)
	},
}

func init() {
	cutCmd.Flags().StringVarP(&cutOpts.InputPath, "input", "i", "", "Path to video")
	cutCmd.Flags().StringVarP(&cutOpts.OutputPath, "output", "o", "", "Path of the cut video")
	addTriggerFlags(cutCmd, &cutOpts)

	cutCmd.MarkFlagRequired("input")
	cutCmd.MarkFlagRequired("output")
	cutCmd.MarkFlagRequired("trigger")
	rootCmd.AddCommand(cutCmd)
}

// addTriggerFlags registers the detection flags shared by cut, detect and batch.
func addTriggerFlags(c *cobra.Command, opts *Options) {
	c.Flags().StringArrayVarP(&opts.Triggers, "trigger", "t", nil, "Trigger image as path[:threshold[:label]] (repeatable, order is the tie-break)")
	c.Flags().Float64Var(&opts.Threshold, "threshold", 0, "Default similarity threshold for triggers without one (default: TRIGGERCUT_THRESHOLD or 0.8)")
	c.Flags().StringVarP(&opts.Mode, "mode", "m", "after", "Which side of the trigger to keep: 'after' keeps [0, trigger), 'before' keeps [trigger, end)")
	c.Flags().Float64VarP(&opts.StartTime, "start", "s", 0, "Start scanning at this many seconds into the video")
	c.Flags().BoolVar(&opts.ParallelTriggers, "parallel-triggers", false, "Score the triggers of each frame concurrently")
}

// runCut processes a single video: detection, planning, and the stream copy.
func runCut(ctx context.Context, opts Options) {
	if err := validateCutFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}

	set, err := loadTriggers(os.Stderr, opts.Triggers, defaultThreshold(opts))
	if err != nil {
		utils.Die("Failed to load trigger images", err, nil)
	}
	mode, _ := types.ParseCutMode(opts.Mode)

	fmt.Fprintf(os.Stderr, "📼 Processing Video: %s\n", opts.InputPath)
	fmt.Fprintf(os.Stderr, "⚙️  Scanning for %d trigger(s), keeping %s\n", set.Len(), describeMode(mode))

	progress := newFrameProgress(logger, isTerminal(os.Stderr))
	proc := newProcessor(opts, set, mode)
	proc.Progress = progress.Update

	report := proc.Process(ctx, opts.InputPath, opts.OutputPath)
	progress.Finish(opts.InputPath)

	printReport(os.Stderr, report)
	if report.State != pipeline.Done {
		utils.Die(failureContext(report), report.Err, nil)
	}
}

// validateCutFlags ensures all CLI arguments are valid before starting heavy processes.
func validateCutFlags(opts *Options) error {
	if err := utils.CheckFile(opts.InputPath); err != nil {
		return err
	}
	if opts.OutputPath == "" {
		return errors.New("output path is required")
	}
	if filepath.Clean(opts.OutputPath) == filepath.Clean(opts.InputPath) {
		return errors.New("output path must differ from the input video")
	}
	return validateTriggerFlags(opts)
}

// validateTriggerFlags checks the flags added by addTriggerFlags.
func validateTriggerFlags(opts *Options) error {
	if len(opts.Triggers) == 0 {
		return errors.New("at least one --trigger is required")
	}
	if opts.Threshold < 0 || opts.Threshold > 1.0 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0, got %f", opts.Threshold)
	}
	def := opts.Threshold
	if def == 0 {
		def = trigger.DefaultThreshold
	}
	for _, arg := range opts.Triggers {
		if _, err := trigger.ParseSource(arg, def); err != nil {
			return err
		}
	}
	if _, err := types.ParseCutMode(opts.Mode); err != nil {
		return err
	}
	if opts.StartTime < 0 {
		return fmt.Errorf("start time must be >= 0, got %v", opts.StartTime)
	}
	return nil
}

func defaultThreshold(opts Options) float64 {
	if opts.Threshold > 0 {
		return opts.Threshold
	}
	if cfg != nil && cfg.Threshold > 0 {
		return cfg.Threshold
	}
	return trigger.DefaultThreshold
}

// loadTriggers decodes every trigger image. Unreadable images are reported to
// w and skipped; the error is non-nil only when none could be loaded.
func loadTriggers(w io.Writer, args []string, def float64) (*trigger.Set, error) {
	sources := make([]trigger.Source, 0, len(args))
	for _, arg := range args {
		src, err := trigger.ParseSource(arg, def)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	set, err := trigger.Load(sources)
	if err != nil {
		return nil, err
	}
	for _, f := range set.Failures() {
		fmt.Fprintf(w, "⚠️  Skipping %v\n", f)
	}
	return set, nil
}

// newProcessor wires the ffmpeg-backed pipeline with metrics and, when a
// database is configured, run history.
func newProcessor(opts Options, set *trigger.Set, mode types.CutMode) *pipeline.Processor {
	proc := &pipeline.Processor{
		Open: pipeline.FFmpegOpener(video.Options{
			FFmpeg:  cfg.FFmpeg,
			FFprobe: cfg.FFprobe,
			Logger:  logging.WithComponent(logger, "video"),
		}),
		Invoker:          transcode.New(cfg.FFmpeg, cfg.TranscodeTimeout, logging.WithComponent(logger, "transcode")),
		Triggers:         set,
		Mode:             mode,
		StartTime:        opts.StartTime,
		ParallelTriggers: opts.ParallelTriggers,
		Observer:         metrics.NewObserver(),
		Logger:           logging.WithComponent(logger, "pipeline"),
	}
	if DB != nil {
		proc.Recorder = pipeline.NewStoreRecorder(DB)
	}
	return proc
}

func describeMode(mode types.CutMode) string {
	if mode == types.CutBefore {
		return "the trigger and everything after it"
	}
	return "everything before the trigger"
}

// printReport writes the human summary of one processed video.
func printReport(w io.Writer, r *pipeline.Report) {
	if r.Detection != nil && r.Detection.Match != nil {
		m := r.Detection.Match
		fmt.Fprintf(w, "🎯 Trigger %q matched at %s (frame %d, similarity %.3f)\n",
			m.TriggerLabel, utils.FmtTime(m.Timestamp), m.FrameIndex, m.Similarity)
	}

	switch r.State {
	case pipeline.Done:
		fmt.Fprintf(w, "✂️  Wrote %s %s\n", r.OutputPath, describeRange(r.Plan))
		fmt.Fprintf(w, "\n🏁 Cut Complete in %s.\n", r.Elapsed.Round(time.Millisecond))
	case pipeline.Aborted:
		var nf *planner.NoTriggerFoundError
		if errors.As(r.Err, &nf) {
			fmt.Fprintf(w, "🔍 Scanned %d frames, %s\n", nf.Miss.FramesScanned, nf.Miss)
		}
	}
}

func describeRange(plan *types.CutPlan) string {
	if plan == nil {
		return ""
	}
	if plan.RetainDuration == nil {
		return fmt.Sprintf("[%s -> end)", utils.FmtTime(plan.RetainStart))
	}
	return fmt.Sprintf("[%s -> %s)", utils.FmtTime(plan.RetainStart), utils.FmtTime(plan.RetainStart+*plan.RetainDuration))
}

func failureContext(r *pipeline.Report) string {
	var oe *video.OpenError
	var fe *transcode.FailedError
	switch {
	case r.State == pipeline.Aborted:
		return "No trigger found, nothing was written"
	case errors.As(r.Err, &oe):
		return "Unable to read video"
	case errors.As(r.Err, &fe):
		return "FFmpeg cut failed"
	case errors.Is(r.Err, context.Canceled):
		return "Cancelled"
	}
	return "Processing failed"
}
