// Package transcode executes cut plans as lossless ffmpeg stream copies.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	// DefaultTimeout bounds a single ffmpeg run.
	DefaultTimeout = 10 * time.Minute

	maxStderrBytes = 8 * 1024
)

// Invoker runs a CutPlan and writes the retained range to outputPath.
// Implementations never panic; every failure is reported in the outcome.
type Invoker interface {
	Execute(ctx context.Context, plan types.CutPlan, outputPath string) types.CutOutcome
}

// FFmpeg is the Invoker backed by the ffmpeg binary.
type FFmpeg struct {
	Binary  string // default "ffmpeg"
	Timeout time.Duration
	Logger  *slog.Logger

	// command builds the process; tests swap it for a helper process.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// New returns an FFmpeg invoker. A zero timeout means DefaultTimeout.
func New(binary string, timeout time.Duration, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		Binary:  binary,
		Timeout: timeout,
		Logger:  logger,
		command: exec.CommandContext,
	}
}

// BuildArgs returns the ffmpeg arguments for plan:
// a stream copy of [start, start+duration), or [start, end) without a
// duration, overwriting outputPath.
func BuildArgs(plan types.CutPlan, outputPath string) []string {
	in := ffmpeg.KwArgs{}
	if plan.RetainStart > 0 {
		// Input-side seek so the copy starts on the keyframe at or before start
		in["ss"] = formatSeconds(plan.RetainStart)
	}

	out := ffmpeg.KwArgs{
		"c":   "copy",
		"map": "0",
	}
	if plan.RetainDuration != nil {
		out["t"] = formatSeconds(*plan.RetainDuration)
	}
	if plan.RetainStart > 0 {
		out["avoid_negative_ts"] = "make_zero"
	}

	return ffmpeg.Input(plan.SourcePath, in).
		Output(outputPath, out).
		OverWriteOutput().
		GetArgs()
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}

// Execute runs ffmpeg under the configured timeout. ffmpeg writes to a
// temporary file next to outputPath that replaces outputPath only on
// success, so a failed run removes its partial output and leaves any
// existing file at outputPath untouched.
func (f *FFmpeg) Execute(ctx context.Context, plan types.CutPlan, outputPath string) types.CutOutcome {
	outcome := types.CutOutcome{
		OutputPath:   outputPath,
		CutPosition:  plan.Match.Timestamp,
		TriggerLabel: plan.Match.TriggerLabel,
		Similarity:   plan.Match.Similarity,
	}
	fail := func(msg string) types.CutOutcome {
		outcome.Success = false
		outcome.Error = msg
		return outcome
	}

	if plan.SourcePath == "" || outputPath == "" {
		return fail("source and output paths are required")
	}
	if filepath.Clean(plan.SourcePath) == filepath.Clean(outputPath) {
		return fail("output path must differ from the source video")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fail(errors.Wrap(err, "cannot create output directory").Error())
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	command := f.command
	if command == nil {
		command = exec.CommandContext
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	tmpPath, err := tempOutput(outputPath)
	if err != nil {
		return fail(errors.Wrap(err, "cannot create output file").Error())
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := BuildArgs(plan, tmpPath)
	cmd := command(runCtx, binary, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	logger.Debug("executing ffmpeg", "args", args, "timeout", timeout)

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		removePartial(tmpPath, logger)
		stderrTail := strings.TrimSpace(stderrBuf.String())

		var msg string
		switch {
		case ctx.Err() != nil:
			msg = "ffmpeg cancelled: " + ctx.Err().Error()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			msg = fmt.Sprintf("ffmpeg timed out after %s", timeout)
		case stderrTail != "":
			msg = stderrTail
		default:
			msg = errors.Wrap(err, "ffmpeg failed").Error()
		}

		logger.Warn("ffmpeg failed",
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 500),
		)
		return fail(msg)
	}

	if info, err := os.Stat(tmpPath); err != nil || info.Size() == 0 {
		removePartial(tmpPath, logger)
		if err == nil {
			err = errors.New("empty file")
		}
		return fail(errors.Wrap(err, "ffmpeg reported success but produced no output").Error())
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		removePartial(tmpPath, logger)
		return fail(errors.Wrap(err, "cannot move output into place").Error())
	}

	logger.Debug("ffmpeg completed", "output", outputPath, "duration_ms", elapsed.Milliseconds())
	outcome.Success = true
	return outcome
}

// tempOutput reserves a hidden file in the output directory. The extension
// is kept so ffmpeg picks the same muxer as for outputPath.
func tempOutput(outputPath string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(outputPath), ".triggercut-*-"+filepath.Base(outputPath))
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func removePartial(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove partial output", "path", path, "error", err)
	}
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		tail := append([]byte(nil), lw.w.Bytes()[lw.w.Len()-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// truncate keeps the last maxLen bytes of s for log lines.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// FailedError reports a CutOutcome that did not succeed.
type FailedError struct {
	OutputPath  string
	Diagnostics string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("transcode to %s failed: %s", e.OutputPath, e.Diagnostics)
}
