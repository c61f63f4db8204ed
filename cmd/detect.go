package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/triggercut/internal/detector"
	"github.com/andresmejia3/triggercut/internal/logging"
	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/andresmejia3/triggercut/internal/utils"
	"github.com/andresmejia3/triggercut/internal/video"
	"github.com/spf13/cobra"
)

var detectOpts Options

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Report where a trigger first appears without cutting",
	Run: func(cmd *cobra.Command, args []string) {
		runDetect(cmd.Context(), detectOpts)
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectOpts.InputPath, "input", "i", "", "Path to video")
	detectCmd.Flags().BoolVar(&detectOpts.JSON, "json", false, "Print the result as JSON on stdout")
	addTriggerFlags(detectCmd, &detectOpts)
	detectCmd.Flags().MarkHidden("mode")

	detectCmd.MarkFlagRequired("input")
	detectCmd.MarkFlagRequired("trigger")
	detectCmd.Annotations = map[string]string{skipDBAnnotation: "true"}
	rootCmd.AddCommand(detectCmd)
}

// detectResult is the JSON shape printed by detect --json.
type detectResult struct {
	Video         string  `json:"video"`
	Found         bool    `json:"found"`
	Trigger       string  `json:"trigger"`
	FrameIndex    int     `json:"frame_index"`
	Timestamp     float64 `json:"timestamp_seconds,omitempty"`
	Similarity    float64 `json:"similarity"`
	FramesScanned int     `json:"frames_scanned,omitempty"`
}

func runDetect(ctx context.Context, opts Options) {
	if err := utils.CheckFile(opts.InputPath); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}
	if err := validateTriggerFlags(&opts); err != nil {
		utils.Die("Invalid arguments", err, nil)
	}

	set, err := loadTriggers(os.Stderr, opts.Triggers, defaultThreshold(opts))
	if err != nil {
		utils.Die("Failed to load trigger images", err, nil)
	}

	src, err := video.Open(ctx, opts.InputPath, video.Options{
		FFmpeg:  cfg.FFmpeg,
		FFprobe: cfg.FFprobe,
		Logger:  logging.WithComponent(logger, "video"),
	})
	if err != nil {
		utils.Die("Unable to read video", err, nil)
	}

	progress := newFrameProgress(logger, isTerminal(os.Stderr) && !opts.JSON)
	res, err := detector.Detect(ctx, src, set, detector.Options{
		StartTime:        opts.StartTime,
		ParallelTriggers: opts.ParallelTriggers,
		Logger:           logging.WithComponent(logger, "detector"),
		Progress: func(scanned, total int) {
			progress.Update(opts.InputPath, scanned, total)
		},
	})
	progress.Finish(opts.InputPath)
	if err != nil {
		utils.Die("Detection failed", err, nil)
	}

	if opts.JSON {
		if err := writeDetectJSON(os.Stdout, opts.InputPath, res); err != nil {
			utils.Die("Failed to encode result", err, nil)
		}
		return
	}
	printDetection(os.Stdout, res)
}

func toDetectResult(videoPath string, res types.DetectionResult) detectResult {
	out := detectResult{Video: videoPath, Found: res.Found()}
	switch {
	case res.Match != nil:
		out.Trigger = res.Match.TriggerLabel
		out.FrameIndex = res.Match.FrameIndex
		out.Timestamp = res.Match.Timestamp
		out.Similarity = res.Match.Similarity
	case res.Miss != nil:
		out.Trigger = res.Miss.BestTriggerLabel
		out.FrameIndex = res.Miss.BestFrameIndex
		out.Similarity = res.Miss.BestSimilarity
		out.FramesScanned = res.Miss.FramesScanned
	}
	return out
}

func writeDetectJSON(w io.Writer, videoPath string, res types.DetectionResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toDetectResult(videoPath, res))
}

func printDetection(w io.Writer, res types.DetectionResult) {
	if m := res.Match; m != nil {
		fmt.Fprintf(w, "🎯 Trigger %q found at %s (%.3fs, frame %d, similarity %.3f)\n",
			m.TriggerLabel, utils.FmtTime(m.Timestamp), m.Timestamp, m.FrameIndex, m.Similarity)
		return
	}
	if res.Miss != nil {
		fmt.Fprintf(w, "🔍 Scanned %d frames, %s\n", res.Miss.FramesScanned, res.Miss)
	}
}
