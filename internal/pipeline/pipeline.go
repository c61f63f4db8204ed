// Package pipeline runs the detect, plan and cut stages for one video and
// tracks the state it ends in.
//
//	Idle -> Detecting -> Detected  -> Planned -> Transcoding -> Done | Failed
//	                  \-> Exhausted -> Aborted
//
// A video that cannot be opened, a cancelled scan or a plan that cannot be
// built also ends in Failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/triggercut/internal/detector"
	"github.com/andresmejia3/triggercut/internal/logging"
	"github.com/andresmejia3/triggercut/internal/planner"
	"github.com/andresmejia3/triggercut/internal/transcode"
	"github.com/andresmejia3/triggercut/internal/trigger"
	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/andresmejia3/triggercut/internal/video"
	"github.com/google/uuid"
)

// State is a step of the per-video state machine.
type State int

const (
	Idle State = iota
	Detecting
	Detected
	Exhausted
	Planned
	Transcoding
	Done
	Failed
	Aborted
)

var stateNames = [...]string{"idle", "detecting", "detected", "exhausted", "planned", "transcoding", "done", "failed", "aborted"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Aborted
}

// OpenFunc opens the video at path for scanning.
type OpenFunc func(ctx context.Context, path string) (video.Source, error)

// FFmpegOpener opens videos through ffprobe and an ffmpeg decoder.
func FFmpegOpener(opts video.Options) OpenFunc {
	return func(ctx context.Context, path string) (video.Source, error) {
		src, err := video.Open(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// ProgressFunc receives detection progress for one video.
type ProgressFunc func(videoPath string, scanned, total int)

// Observer receives instrumentation events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveState(state string)
	ObserveFrames(n int)
	ObserveDetection(found bool, seconds float64)
	ObserveTranscode(success bool, seconds float64)
	ObserveActive(delta int)
}

// Recorder persists finished reports.
type Recorder interface {
	Record(ctx context.Context, r *Report) error
}

// Report describes one processed video.
type Report struct {
	RunID       string
	VideoPath   string
	OutputPath  string
	Mode        types.CutMode
	State       State
	Transitions []State
	Detection   *types.DetectionResult
	Plan        *types.CutPlan
	Outcome     *types.CutOutcome
	Err         error
	Elapsed     time.Duration
}

func (r *Report) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Report) fail(err error) {
	r.Err = err
	r.transition(Failed)
}

// Processor holds everything shared by the videos of one invocation. The
// trigger set is read-only, so one Processor can serve concurrent Process
// calls.
type Processor struct {
	Open             OpenFunc
	Invoker          transcode.Invoker
	Triggers         *trigger.Set
	Mode             types.CutMode
	StartTime        float64
	ParallelTriggers bool
	Progress         ProgressFunc
	Observer         Observer
	Recorder         Recorder
	Logger           *slog.Logger
}

// Process runs one video through the state machine. It never returns nil
// and never panics on a per-video failure; the outcome is in the report.
func (p *Processor) Process(ctx context.Context, videoPath, outputPath string) *Report {
	start := time.Now()
	r := &Report{
		RunID:       uuid.NewString(),
		VideoPath:   videoPath,
		OutputPath:  outputPath,
		Mode:        p.Mode,
		State:       Idle,
		Transitions: []State{Idle},
	}
	logger := logging.WithVideo(p.logger(), videoPath, r.RunID)
	obs := p.observer()

	defer func() {
		r.Elapsed = time.Since(start)
		obs.ObserveState(r.State.String())
		logger.Info("video finished", "state", r.State.String(), "elapsed", r.Elapsed.Round(time.Millisecond), "error", r.Err)
		if p.Recorder != nil {
			// The run context might be cancelled already (Ctrl+C) and we still want the row
			if err := p.Recorder.Record(context.WithoutCancel(ctx), r); err != nil {
				logger.Warn("failed to record run", "error", err)
			}
		}
	}()

	r.transition(Detecting)
	src, err := p.Open(ctx, videoPath)
	if err != nil {
		r.fail(err)
		return r
	}

	scanned := 0
	detectStart := time.Now()
	res, err := detector.Detect(ctx, src, p.Triggers, detector.Options{
		StartTime:        p.StartTime,
		ParallelTriggers: p.ParallelTriggers,
		Logger:           logger,
		Progress: func(n, total int) {
			scanned = n
			if p.Progress != nil {
				p.Progress(videoPath, n, total)
			}
		},
	})
	obs.ObserveFrames(scanned)
	if err != nil {
		r.fail(err)
		return r
	}
	obs.ObserveDetection(res.Found(), time.Since(detectStart).Seconds())
	r.Detection = &res

	if res.Found() {
		r.transition(Detected)
	} else {
		r.transition(Exhausted)
	}

	plan, err := planner.Plan(res, videoPath, p.Mode)
	if err != nil {
		var nf *planner.NoTriggerFoundError
		r.Err = err
		if errors.As(err, &nf) {
			r.transition(Aborted)
		} else {
			r.transition(Failed)
		}
		return r
	}
	r.Plan = &plan
	if planner.Empty(plan) {
		r.fail(planner.ErrEmptyRange)
		return r
	}
	r.transition(Planned)

	r.transition(Transcoding)
	transcodeStart := time.Now()
	outcome := p.Invoker.Execute(ctx, plan, outputPath)
	obs.ObserveTranscode(outcome.Success, time.Since(transcodeStart).Seconds())
	r.Outcome = &outcome

	if !outcome.Success {
		r.fail(&transcode.FailedError{OutputPath: outputPath, Diagnostics: outcome.Error})
		return r
	}
	r.transition(Done)
	return r
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Processor) observer() Observer {
	if p.Observer != nil {
		return p.Observer
	}
	return nopObserver{}
}

type nopObserver struct{}

func (nopObserver) ObserveState(string) {}
func (nopObserver) ObserveFrames(int) {}
func (nopObserver) ObserveDetection(bool, float64) {}
func (nopObserver) ObserveTranscode(bool, float64) {}
func (nopObserver) ObserveActive(int) {}
