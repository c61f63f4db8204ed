// Package detector scans a video for the first frame that matches any
// trigger image.
//
// Frames are visited strictly in index order and every trigger is scored
// against a frame before the next one is decoded. The first trigger, in
// declaration order, whose score reaches its own threshold on the earliest
// such frame wins. When nothing crosses, the result reports the best score
// seen over the whole scan.
package detector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/andresmejia3/triggercut/internal/similarity"
	"github.com/andresmejia3/triggercut/internal/trigger"
	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/andresmejia3/triggercut/internal/video"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc receives the number of frames scanned so far and the number of
// frames the scan expects (0 when unknown).
type ProgressFunc func(scanned, total int)

// Options tunes a detection pass. The zero value scans from the first frame.
type Options struct {
	StartTime        float64 // seconds
	Progress         ProgressFunc
	ParallelTriggers bool // score the triggers of one frame concurrently
	Logger           *slog.Logger
}

// Detect runs one detection pass over src. src is closed before Detect
// returns, whatever the outcome.
//
// A decode failure in the middle of the video ends the scan as if the stream
// had ended. The only errors returned are invalid arguments, a failed seek
// and context cancellation.
func Detect(ctx context.Context, src video.Source, set *trigger.Set, opts Options) (types.DetectionResult, error) {
	defer src.Close()

	if set == nil || set.Len() == 0 {
		return types.DetectionResult{}, &trigger.NoValidTriggersError{}
	}
	if opts.StartTime < 0 {
		return types.DetectionResult{}, fmt.Errorf("start time must be >= 0, got %v", opts.StartTime)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fps := src.FPS()
	start := video.FrameIndex(opts.StartTime, fps)
	if err := src.Seek(start); err != nil {
		return types.DetectionResult{}, fmt.Errorf("seek to frame %d: %w", start, err)
	}

	total := 0
	if n := src.FrameCount(); n > start {
		total = n - start
	}

	s := newScan(set, opts.ParallelTriggers)
	for {
		if err := ctx.Err(); err != nil {
			return types.DetectionResult{}, err
		}

		frame, err := src.Next()
		if err != nil {
			if err != io.EOF {
				logger.Debug("frame decode failed, ending scan", "frames_scanned", s.scanned, "error", err)
			}
			break
		}

		winner := s.step(frame)
		if opts.Progress != nil {
			opts.Progress(s.scanned, total)
		}

		if winner >= 0 {
			spec := set.At(winner)
			m := &types.Match{
				TriggerLabel: spec.Label,
				TriggerIndex: winner,
				FrameIndex:   frame.Index,
				Timestamp:    float64(frame.Index) / fps,
				Similarity:   s.scores[winner],
			}
			logger.Debug("trigger matched",
				"trigger", m.TriggerLabel,
				"frame", m.FrameIndex,
				"similarity", m.Similarity,
				"frames_scanned", s.scanned,
			)
			return types.DetectionResult{Match: m}, nil
		}
	}

	miss := s.miss()
	logger.Debug("no trigger matched",
		"best_trigger", miss.BestTriggerLabel,
		"best_similarity", miss.BestSimilarity,
		"best_frame", miss.BestFrameIndex,
		"frames_scanned", miss.FramesScanned,
	)
	return types.DetectionResult{Miss: miss}, nil
}

// scan is the per-pass state. Running bests are indexed by trigger position.
type scan struct {
	set      *trigger.Set
	parallel bool

	bestSim   []float64
	bestFrame []int
	scores    []float64

	tmplW, tmplH int
	templates    []*similarity.Plane

	scanned int
}

func newScan(set *trigger.Set, parallel bool) *scan {
	n := set.Len()
	return &scan{
		set:       set,
		parallel:  parallel && n > 1,
		bestSim:   make([]float64, n),
		bestFrame: make([]int, n),
		scores:    make([]float64, n),
	}
}

// step scores every trigger against frame, updates the running bests and
// returns the index of the first trigger that crossed its threshold, or -1.
func (s *scan) step(frame types.FrameHandle) int {
	plane := similarity.NewPlane(frame.Pixels)
	s.prepareTemplates(plane.Width, plane.Height)
	s.score(plane)
	s.scanned++

	winner := -1
	for i, score := range s.scores {
		if score > s.bestSim[i] {
			s.bestSim[i] = score
			s.bestFrame[i] = frame.Index
		}
		if winner < 0 && score >= s.set.At(i).Threshold {
			winner = i
		}
	}
	return winner
}

// prepareTemplates resizes the triggers once per frame size.
func (s *scan) prepareTemplates(w, h int) {
	if s.templates != nil && s.tmplW == w && s.tmplH == h {
		return
	}
	s.tmplW, s.tmplH = w, h
	s.templates = make([]*similarity.Plane, s.set.Len())
	for i := range s.templates {
		s.templates[i] = similarity.NewTemplate(s.set.At(i).Image, w, h)
	}
}

func (s *scan) score(plane *similarity.Plane) {
	if !s.parallel {
		for i, tmpl := range s.templates {
			s.scores[i] = similarity.Correlate(plane, tmpl)
		}
		return
	}

	// Each goroutine writes its own slot; declaration order is restored by
	// the caller iterating s.scores in index order.
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, tmpl := range s.templates {
		i, tmpl := i, tmpl
		g.Go(func() error {
			s.scores[i] = similarity.Correlate(plane, tmpl)
			return nil
		})
	}
	_ = g.Wait()
}

// miss picks the global best: highest similarity, then lowest frame index,
// then declaration order.
func (s *scan) miss() *types.Miss {
	best := 0
	for i := 1; i < len(s.bestSim); i++ {
		switch {
		case s.bestSim[i] > s.bestSim[best]:
			best = i
		case s.bestSim[i] == s.bestSim[best] && s.bestFrame[i] < s.bestFrame[best]:
			best = i
		}
	}
	return &types.Miss{
		BestTriggerLabel: s.set.At(best).Label,
		BestSimilarity:   s.bestSim[best],
		BestFrameIndex:   s.bestFrame[best],
		FramesScanned:    s.scanned,
	}
}
