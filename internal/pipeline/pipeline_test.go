package pipeline

import (
	"context"
	"errors"
	"image"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/triggercut/internal/logging"
	"github.com/andresmejia3/triggercut/internal/planner"
	"github.com/andresmejia3/triggercut/internal/store"
	"github.com/andresmejia3/triggercut/internal/transcode"
	"github.com/andresmejia3/triggercut/internal/trigger"
	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/andresmejia3/triggercut/internal/video"
)

func noise(seed int64) image.Image {
	r := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.Intn(256))
	}
	return img
}

// syntheticClip is a 10 second, 10 fps video of noise frames.
func syntheticClip() []image.Image {
	frames := make([]image.Image, 100)
	for i := range frames {
		frames[i] = noise(int64(i + 1))
	}
	return frames
}

// memOpener serves syntheticClip for every path except those listed as broken.
func memOpener(frames []image.Image, broken ...string) OpenFunc {
	return func(ctx context.Context, path string) (video.Source, error) {
		for _, b := range broken {
			if path == b {
				return nil, &video.OpenError{Path: path, Err: errors.New("moov atom not found")}
			}
		}
		return video.NewMemorySource(frames, 10), nil
	}
}

// fakeInvoker records plans and writes a placeholder output file.
type fakeInvoker struct {
	mu    sync.Mutex
	plans []types.CutPlan
	fail  bool
}

func (f *fakeInvoker) Execute(ctx context.Context, plan types.CutPlan, outputPath string) types.CutOutcome {
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	f.mu.Unlock()

	out := types.CutOutcome{
		OutputPath:   outputPath,
		CutPosition:  plan.Match.Timestamp,
		TriggerLabel: plan.Match.TriggerLabel,
		Similarity:   plan.Match.Similarity,
	}
	if f.fail {
		out.Error = "Invalid data found when processing input"
		return out
	}
	if err := os.WriteFile(outputPath, []byte("video"), 0644); err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = true
	return out
}

type fakeObserver struct {
	mu     sync.Mutex
	states map[string]int
	frames int
	active int
	peak   int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{states: map[string]int{}}
}

func (o *fakeObserver) ObserveState(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[s]++
}

func (o *fakeObserver) ObserveFrames(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames += n
}

func (o *fakeObserver) ObserveDetection(bool, float64) {}

func (o *fakeObserver) ObserveTranscode(bool, float64) {}

func (o *fakeObserver) ObserveActive(d int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active += d
	if o.active > o.peak {
		o.peak = o.active
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	reports []*Report
	err     error
}

func (f *fakeRecorder) Record(ctx context.Context, r *Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func newProcessor(t *testing.T, frames []image.Image, trig image.Image, mode types.CutMode, inv transcode.Invoker) *Processor {
	t.Helper()
	set, err := trigger.NewSet(trigger.Spec{Label: "slide", Threshold: 0.95, Image: trig})
	if err != nil {
		t.Fatal(err)
	}
	return &Processor{
		Open:     memOpener(frames, "broken.mp4"),
		Invoker:  inv,
		Triggers: set,
		Mode:     mode,
		Logger:   logging.Discard(),
	}
}

func assertTransitions(t *testing.T, r *Report, want ...State) {
	t.Helper()
	if len(r.Transitions) != len(want) {
		t.Fatalf("Transitions = %v, want %v", r.Transitions, want)
	}
	for i := range want {
		if r.Transitions[i] != want[i] {
			t.Fatalf("Transitions = %v, want %v", r.Transitions, want)
		}
	}
}

func TestProcessCutAfter(t *testing.T) {
	frames := syntheticClip()
	inv := &fakeInvoker{}
	p := newProcessor(t, frames, frames[50], types.CutAfter, inv)
	out := filepath.Join(t.TempDir(), "out.mp4")

	r := p.Process(context.Background(), "clip.mp4", out)

	if r.State != Done || r.Err != nil {
		t.Fatalf("State = %v, Err = %v, want done", r.State, r.Err)
	}
	assertTransitions(t, r, Idle, Detecting, Detected, Planned, Transcoding, Done)

	if !r.Outcome.Success || math.Abs(r.Outcome.CutPosition-5.0) > 1e-9 {
		t.Errorf("Outcome = %+v, want success at 5.0s", *r.Outcome)
	}
	plan := inv.plans[0]
	if plan.RetainStart != 0 || plan.RetainDuration == nil || math.Abs(*plan.RetainDuration-5.0) > 1e-9 {
		t.Errorf("Plan = %+v, want [0, 5.0)", plan)
	}
	if r.Detection.Match.FrameIndex != 50 {
		t.Errorf("FrameIndex = %d, want 50", r.Detection.Match.FrameIndex)
	}
	if r.RunID == "" {
		t.Error("RunID not set")
	}
}

func TestProcessCutBefore(t *testing.T) {
	frames := syntheticClip()
	inv := &fakeInvoker{}
	p := newProcessor(t, frames, frames[50], types.CutBefore, inv)

	r := p.Process(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	if r.State != Done {
		t.Fatalf("State = %v, Err = %v, want done", r.State, r.Err)
	}
	plan := inv.plans[0]
	if math.Abs(plan.RetainStart-5.0) > 1e-9 || plan.RetainDuration != nil {
		t.Errorf("Plan = %+v, want [5.0, end)", plan)
	}
}

func TestProcessNotFoundAborts(t *testing.T) {
	frames := syntheticClip()
	inv := &fakeInvoker{}
	p := newProcessor(t, frames, noise(4242), types.CutAfter, inv)
	out := filepath.Join(t.TempDir(), "out.mp4")

	r := p.Process(context.Background(), "clip.mp4", out)

	if r.State != Aborted {
		t.Fatalf("State = %v, want aborted", r.State)
	}
	assertTransitions(t, r, Idle, Detecting, Exhausted, Aborted)

	var nf *planner.NoTriggerFoundError
	if !errors.As(r.Err, &nf) {
		t.Fatalf("Err = %v, want NoTriggerFoundError", r.Err)
	}
	if nf.Miss.BestTriggerLabel != "slide" || nf.Miss.FramesScanned != 100 {
		t.Errorf("Miss = %+v", nf.Miss)
	}
	if len(inv.plans) != 0 {
		t.Error("invoker must not run for an aborted video")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("no output should exist, stat err = %v", err)
	}
}

func TestProcessCutAfterFirstFrameFails(t *testing.T) {
	frames := syntheticClip()
	inv := &fakeInvoker{}
	p := newProcessor(t, frames, frames[0], types.CutAfter, inv)

	r := p.Process(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "out.mp4"))

	if r.State != Failed || !errors.Is(r.Err, planner.ErrEmptyRange) {
		t.Fatalf("State = %v, Err = %v, want failed with ErrEmptyRange", r.State, r.Err)
	}
	assertTransitions(t, r, Idle, Detecting, Detected, Failed)
	if r.Plan == nil || r.Plan.RetainStart != 0 || r.Plan.RetainDuration == nil || *r.Plan.RetainDuration != 0 {
		t.Errorf("Plan = %+v, want start 0 duration 0", r.Plan)
	}
	if len(inv.plans) != 0 {
		t.Error("invoker must not run for an empty range")
	}
}

func TestProcessOpenErrorFails(t *testing.T) {
	p := newProcessor(t, syntheticClip(), noise(1), types.CutAfter, &fakeInvoker{})

	r := p.Process(context.Background(), "broken.mp4", filepath.Join(t.TempDir(), "out.mp4"))

	var oe *video.OpenError
	if r.State != Failed || !errors.As(r.Err, &oe) {
		t.Errorf("State = %v, Err = %v, want failed with OpenError", r.State, r.Err)
	}
	assertTransitions(t, r, Idle, Detecting, Failed)
}

func TestProcessTranscodeFailure(t *testing.T) {
	frames := syntheticClip()
	p := newProcessor(t, frames, frames[50], types.CutBefore, &fakeInvoker{fail: true})

	r := p.Process(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "out.mp4"))

	var fe *transcode.FailedError
	if r.State != Failed || !errors.As(r.Err, &fe) {
		t.Fatalf("State = %v, Err = %v, want failed with FailedError", r.State, r.Err)
	}
	if !strings.Contains(fe.Diagnostics, "Invalid data") {
		t.Errorf("Diagnostics = %q", fe.Diagnostics)
	}
	assertTransitions(t, r, Idle, Detecting, Detected, Planned, Transcoding, Failed)
}

func TestProcessCancelled(t *testing.T) {
	frames := syntheticClip()
	p := newProcessor(t, frames, frames[50], types.CutAfter, &fakeInvoker{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := p.Process(ctx, "clip.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	if r.State != Failed || !errors.Is(r.Err, context.Canceled) {
		t.Errorf("State = %v, Err = %v, want failed with context.Canceled", r.State, r.Err)
	}
}

func TestProcessObserverAndRecorder(t *testing.T) {
	frames := syntheticClip()
	p := newProcessor(t, frames, frames[20], types.CutAfter, &fakeInvoker{})
	obs := newFakeObserver()
	rec := &fakeRecorder{err: errors.New("database is down")}
	p.Observer = obs
	p.Recorder = rec

	r := p.Process(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "out.mp4"))

	if r.State != Done {
		t.Fatalf("Recorder failures must not change the outcome, got %v", r.State)
	}
	if obs.states["done"] != 1 || obs.frames != 21 {
		t.Errorf("observer saw states=%v frames=%d, want done=1 frames=21", obs.states, obs.frames)
	}
	if len(rec.reports) != 1 || rec.reports[0] != r {
		t.Errorf("recorder got %d reports", len(rec.reports))
	}
}

func TestProcessProgress(t *testing.T) {
	frames := syntheticClip()
	p := newProcessor(t, frames, noise(777), types.CutAfter, &fakeInvoker{})
	var last, total int
	p.Progress = func(path string, n, tot int) { last, total = n, tot }

	p.Process(context.Background(), "clip.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	if last != 100 || total != 100 {
		t.Errorf("progress = %d/%d, want 100/100", last, total)
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	frames := syntheticClip()
	inv := &fakeInvoker{}
	p := newProcessor(t, frames, frames[50], types.CutAfter, inv)
	obs := newFakeObserver()
	p.Observer = obs
	dir := t.TempDir()

	var seen []string
	videos := []string{"/in/a.mp4", "broken.mp4", "/in/c.mp4"}
	reports := Batch(context.Background(), p, videos, dir, 3, func(r *Report) {
		seen = append(seen, r.VideoPath)
	})

	if len(reports) != 3 {
		t.Fatalf("Expected 3 reports, got %d", len(reports))
	}
	for _, i := range []int{0, 2} {
		if reports[i].State != Done {
			t.Errorf("%s: State = %v, Err = %v, want done", videos[i], reports[i].State, reports[i].Err)
		}
		want := filepath.Join(dir, "edited_"+filepath.Base(videos[i]))
		if reports[i].OutputPath != want {
			t.Errorf("OutputPath = %q, want %q", reports[i].OutputPath, want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("output missing: %v", err)
		}
	}

	var oe *video.OpenError
	if reports[1].State != Failed || !errors.As(reports[1].Err, &oe) {
		t.Errorf("broken video: State = %v, Err = %v, want failed with OpenError", reports[1].State, reports[1].Err)
	}

	if strings.Join(seen, ",") != strings.Join(videos, ",") {
		t.Errorf("onReport order = %v, want %v", seen, videos)
	}
	if obs.active != 0 || obs.peak < 1 {
		t.Errorf("active workers gauge ended at %d (peak %d)", obs.active, obs.peak)
	}
	if obs.states["done"] != 2 || obs.states["failed"] != 1 {
		t.Errorf("states = %v", obs.states)
	}
}

// slowInvoker delays the cut for one output so batch completion order
// differs from input order.
type slowInvoker struct {
	fakeInvoker
	slow string
}

func (s *slowInvoker) Execute(ctx context.Context, plan types.CutPlan, outputPath string) types.CutOutcome {
	if filepath.Base(outputPath) == s.slow {
		time.Sleep(200 * time.Millisecond)
	}
	return s.fakeInvoker.Execute(ctx, plan, outputPath)
}

func TestBatchReportsInInputOrder(t *testing.T) {
	frames := syntheticClip()
	inv := &slowInvoker{slow: "edited_a.mp4"}
	p := newProcessor(t, frames, frames[50], types.CutBefore, inv)

	var seen []string
	videos := []string{"/in/a.mp4", "/in/b.mp4", "/in/c.mp4"}
	Batch(context.Background(), p, videos, t.TempDir(), 3, func(r *Report) {
		seen = append(seen, r.VideoPath)
	})

	if strings.Join(seen, ",") != strings.Join(videos, ",") {
		t.Errorf("onReport order = %v, want input order %v", seen, videos)
	}
}

func TestBatchCancelled(t *testing.T) {
	p := newProcessor(t, syntheticClip(), noise(3), types.CutAfter, &fakeInvoker{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports := Batch(ctx, p, []string{"a.mp4", "b.mp4"}, t.TempDir(), 1, nil)
	for _, r := range reports {
		if r == nil || r.State != Failed || !errors.Is(r.Err, context.Canceled) {
			t.Errorf("report = %+v, want failed with context.Canceled", r)
		}
	}
}

func TestRunRecord(t *testing.T) {
	match := &types.Match{TriggerLabel: "slide", FrameIndex: 50, Timestamp: 5, Similarity: 0.99}
	r := &Report{
		RunID:      "run-1",
		VideoPath:  "/in/a.mp4",
		OutputPath: "/out/edited_a.mp4",
		Mode:       types.CutBefore,
		State:      Done,
		Detection:  &types.DetectionResult{Match: match},
	}

	got := RunRecord("vid", r)
	if got.State != "done" || got.Mode != "before" || got.TriggerLabel != "slide" || got.OutputPath != "/out/edited_a.mp4" {
		t.Errorf("RunRecord() = %+v", got)
	}
	if got.FrameIndex == nil || *got.FrameIndex != 50 || got.Timestamp == nil || *got.Timestamp != 5 {
		t.Errorf("detection fields missing: %+v", got)
	}

	r.State = Aborted
	r.Detection = &types.DetectionResult{Miss: &types.Miss{BestTriggerLabel: "slide", BestSimilarity: 0.3, BestFrameIndex: 7}}
	r.Err = errors.New("no trigger found")
	got = RunRecord("vid", r)
	if got.OutputPath != "" || got.Timestamp != nil || got.Error != "no trigger found" || *got.FrameIndex != 7 {
		t.Errorf("RunRecord() for a miss = %+v", got)
	}
}

type memStore struct {
	videos map[string]string
	runs   []store.Run
}

func (m *memStore) EnsureVideoMetadata(ctx context.Context, id, path string) error {
	m.videos[id] = path
	return nil
}

func (m *memStore) RecordRun(ctx context.Context, r store.Run) error {
	m.runs = append(m.runs, r)
	return nil
}

func TestStoreRecorder(t *testing.T) {
	ms := &memStore{videos: map[string]string{}}
	rec := &StoreRecorder{store: ms}

	if err := rec.Record(context.Background(), &Report{RunID: "r1", VideoPath: "/gone.mp4", State: Failed}); err != nil {
		t.Fatal(err)
	}
	if ms.videos["missing:/gone.mp4"] != "/gone.mp4" {
		t.Errorf("videos = %v", ms.videos)
	}
	if len(ms.runs) != 1 || ms.runs[0].VideoID != "missing:/gone.mp4" || ms.runs[0].State != "failed" {
		t.Errorf("runs = %+v", ms.runs)
	}
}

func TestStateString(t *testing.T) {
	if Transcoding.String() != "transcoding" || Aborted.String() != "aborted" {
		t.Error("unexpected state names")
	}
	if !Done.Terminal() || !Failed.Terminal() || !Aborted.Terminal() || Planned.Terminal() {
		t.Error("unexpected Terminal() results")
	}
	if State(42).String() != "state(42)" {
		t.Errorf("State(42).String() = %q", State(42).String())
	}
}
