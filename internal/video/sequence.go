package video

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var frameExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// SequenceSource reads frames previously extracted to a directory, one
// image per frame, in lexical file name order.
type SequenceSource struct {
	dir    string
	fps    float64
	files  []string
	pos    int
	closed bool
}

// OpenImageSequence lists the raster images in dir. fps must be positive.
func OpenImageSequence(dir string, fps float64) (*SequenceSource, error) {
	if fps <= 0 {
		return nil, &OpenError{Path: dir, Err: errors.Errorf("invalid frame rate %v", fps)}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &OpenError{Path: dir, Err: err}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, &OpenError{Path: dir, Err: errors.New("no frames found")}
	}
	sort.Strings(files)

	return &SequenceSource{dir: dir, fps: fps, files: files}, nil
}

func (s *SequenceSource) FPS() float64 { return s.fps }

func (s *SequenceSource) FrameCount() int { return len(s.files) }

func (s *SequenceSource) Seek(index int) error {
	if index < 0 {
		return errors.Errorf("invalid frame index %d", index)
	}
	s.pos = index
	return nil
}

// Next decodes the next image. A file that fails to decode ends the stream.
func (s *SequenceSource) Next() (types.FrameHandle, error) {
	if s.closed || s.pos >= len(s.files) {
		return types.FrameHandle{}, io.EOF
	}
	img, err := imaging.Open(s.files[s.pos])
	if err != nil {
		s.pos = len(s.files)
		return types.FrameHandle{}, io.EOF
	}
	idx := s.pos
	s.pos++
	return types.FrameHandle{
		Index:     idx,
		Timestamp: float64(idx) / s.fps,
		Pixels:    img,
	}, nil
}

func (s *SequenceSource) Close() error {
	s.closed = true
	return nil
}
