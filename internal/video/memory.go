package video

import (
	"image"
	"io"

	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/pkg/errors"
)

// MemorySource serves frames that are already decoded, e.g. synthetic
// clips or frames grabbed by another component.
type MemorySource struct {
	frames []image.Image
	fps    float64
	pos    int
	closed bool
}

// NewMemorySource wraps frames played back at fps.
func NewMemorySource(frames []image.Image, fps float64) *MemorySource {
	return &MemorySource{frames: frames, fps: fps}
}

func (m *MemorySource) FPS() float64 { return m.fps }

func (m *MemorySource) FrameCount() int { return len(m.frames) }

func (m *MemorySource) Seek(index int) error {
	if index < 0 {
		return errors.Errorf("invalid frame index %d", index)
	}
	m.pos = index
	return nil
}

func (m *MemorySource) Next() (types.FrameHandle, error) {
	if m.closed || m.pos >= len(m.frames) {
		return types.FrameHandle{}, io.EOF
	}
	idx := m.pos
	m.pos++
	return types.FrameHandle{
		Index:     idx,
		Timestamp: float64(idx) / m.fps,
		Pixels:    m.frames[idx],
	}, nil
}

// Closed reports whether Close has been called.
func (m *MemorySource) Closed() bool { return m.closed }

func (m *MemorySource) Close() error {
	m.closed = true
	return nil
}
