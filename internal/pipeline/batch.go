package pipeline

import (
	"context"
	"path/filepath"

	"github.com/andresmejia3/triggercut/internal/worker"
)

// OutputName is the file name a batch writes for video.
func OutputName(video string) string {
	return "edited_" + filepath.Base(video)
}

// Batch processes videos concurrently on workers goroutines (0 means
// GOMAXPROCS) and writes each result to outputDir/OutputName(video).
// Reports come back in input order. onReport, if set, also sees them in
// input order, each one as soon as every earlier video has finished. One
// video's failure never affects the others.
func Batch(ctx context.Context, proc *Processor, videos []string, outputDir string, workers int, onReport func(*Report)) []*Report {
	obs := proc.observer()

	pool := &worker.Pool[*Report]{Size: workers}
	if onReport != nil {
		pool.OnResult = func(_ int, r *Report) { onReport(r) }
	}

	reports := pool.Run(ctx, len(videos), func(ctx context.Context, i int) *Report {
		obs.ObserveActive(1)
		defer obs.ObserveActive(-1)
		return proc.Process(ctx, videos[i], filepath.Join(outputDir, OutputName(videos[i])))
	})

	// Videos never started because the batch was cancelled
	for i, r := range reports {
		if r == nil {
			reports[i] = &Report{
				VideoPath:   videos[i],
				OutputPath:  filepath.Join(outputDir, OutputName(videos[i])),
				Mode:        proc.Mode,
				State:       Failed,
				Transitions: []State{Idle, Failed},
				Err:         context.Cause(ctx),
			}
		}
	}
	return reports
}
