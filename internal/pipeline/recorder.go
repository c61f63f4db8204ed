package pipeline

import (
	"context"
	"fmt"

	"github.com/andresmejia3/triggercut/internal/store"
	"github.com/andresmejia3/triggercut/internal/utils"
)

// runStore is the part of store.Store the recorder needs.
type runStore interface {
	EnsureVideoMetadata(ctx context.Context, videoID, path string) error
	RecordRun(ctx context.Context, r store.Run) error
}

// StoreRecorder writes reports to the run history tables.
type StoreRecorder struct {
	store runStore
}

func NewStoreRecorder(s *store.Store) *StoreRecorder {
	return &StoreRecorder{store: s}
}

// Record registers the video and inserts one trigger_runs row. Videos that no
// longer exist on disk are keyed by path alone.
func (s *StoreRecorder) Record(ctx context.Context, r *Report) error {
	videoID, err := utils.GenerateVideoID(r.VideoPath)
	if err != nil {
		videoID = "missing:" + r.VideoPath
	}
	if err := s.store.EnsureVideoMetadata(ctx, videoID, r.VideoPath); err != nil {
		return fmt.Errorf("register video: %w", err)
	}
	if err := s.store.RecordRun(ctx, RunRecord(videoID, r)); err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// RunRecord flattens a report into a store row.
func RunRecord(videoID string, r *Report) store.Run {
	run := store.Run{
		RunID:     r.RunID,
		VideoID:   videoID,
		VideoPath: r.VideoPath,
		State:     r.State.String(),
		Mode:      r.Mode.String(),
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}

	if r.Detection != nil {
		switch {
		case r.Detection.Match != nil:
			m := r.Detection.Match
			frame, ts, sim := m.FrameIndex, m.Timestamp, m.Similarity
			run.TriggerLabel = m.TriggerLabel
			run.FrameIndex, run.Timestamp, run.Similarity = &frame, &ts, &sim
		case r.Detection.Miss != nil:
			m := r.Detection.Miss
			frame, sim := m.BestFrameIndex, m.BestSimilarity
			run.TriggerLabel = m.BestTriggerLabel
			run.FrameIndex, run.Similarity = &frame, &sim
		}
	}
	if r.State == Done {
		run.OutputPath = r.OutputPath
	}
	return run
}
