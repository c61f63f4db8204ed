package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// logStep is the percentage between progress log lines when no bar is drawn.
const logStep = 5

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// frameProgress renders detection progress. On a terminal each video gets a
// progress bar on stderr; otherwise a log line is written every logStep
// percent. Videos with an unknown frame count only get a bar.
type frameProgress struct {
	mu     sync.Mutex
	logger *slog.Logger
	useBar bool
	bars   map[string]*progressbar.ProgressBar
	logged map[string]int
}

func newFrameProgress(logger *slog.Logger, useBar bool) *frameProgress {
	return &frameProgress{
		logger: logger,
		useBar: useBar,
		bars:   make(map[string]*progressbar.ProgressBar),
		logged: make(map[string]int),
	}
}

// Update matches pipeline.ProgressFunc.
func (p *frameProgress) Update(videoPath string, scanned, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.useBar {
		bar, ok := p.bars[videoPath]
		if !ok {
			max := total
			if max <= 0 {
				max = -1 // spinner
			}
			bar = progressbar.NewOptions(max,
				progressbar.OptionSetDescription("🔍 Scanning "+filepath.Base(videoPath)),
				progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
				progressbar.OptionShowCount(),
			)
			p.bars[videoPath] = bar
		}
		bar.Set(scanned)
		return
	}

	if total <= 0 {
		return
	}
	pct := scanned * 100 / total
	if pct > 100 {
		pct = 100
	}
	step := pct / logStep * logStep
	if step == 0 || step <= p.logged[videoPath] {
		return
	}
	p.logged[videoPath] = step
	p.logger.Info("scan progress", "video", filepath.Base(videoPath), "percent", step, "frames", scanned, "total", total)
}

// Finish completes and forgets the bar of videoPath.
func (p *frameProgress) Finish(videoPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if bar, ok := p.bars[videoPath]; ok {
		bar.Finish()
		os.Stderr.WriteString("\n")
		delete(p.bars, videoPath)
	}
	delete(p.logged, videoPath)
}
