// Package video provides sequential, seekable frame access to persisted
// video files.
//
// Frames are decoded by an ffmpeg child process writing raw RGBA to a pipe;
// container and codec support is whatever the installed ffmpeg supports.
// Decode failures in the middle of a stream are reported as io.EOF so that a
// damaged bitstream ends a scan instead of crashing it.
package video

import (
	"fmt"
	"math"

	"github.com/andresmejia3/triggercut/internal/types"
)

// Source yields decoded frames in increasing index order.
type Source interface {
	// FPS returns the frame rate in frames per second (always > 0).
	FPS() float64
	// FrameCount returns the total number of frames, or 0 if unknown.
	// The value may be an estimate.
	FrameCount() int
	// Seek positions the source so the next frame returned has the given index.
	Seek(index int) error
	// Next returns the next frame or io.EOF at the end of the stream.
	Next() (types.FrameHandle, error)
	// Close releases the underlying file and decoder.
	Close() error
}

// OpenError means a video could not be opened or has no decodable video stream.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open video %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// FrameIndex converts a start time to a frame index: floor(seconds * fps).
func FrameIndex(seconds, fps float64) int {
	if seconds <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Floor(seconds * fps))
}

// SeekTime seeks src to the frame at the given time.
func SeekTime(src Source, seconds float64) error {
	return src.Seek(FrameIndex(seconds, src.FPS()))
}
