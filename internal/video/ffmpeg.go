package video

import (
	"context"
	"image"
	"io"
	"log/slog"
	"strings"

	"github.com/andresmejia3/triggercut/internal/types"
	"github.com/andresmejia3/triggercut/internal/utils"
	"github.com/pkg/errors"
)

// Options configures Open.
type Options struct {
	FFmpeg  string // ffmpeg binary, default "ffmpeg"
	FFprobe string // ffprobe binary, default "ffprobe"
	Logger  *slog.Logger
}

// FFmpegSource decodes a video file through an ffmpeg rawvideo pipe.
// It is not safe for concurrent use.
type FFmpegSource struct {
	ctx    context.Context
	path   string
	info   *VideoInfo
	ffmpeg string
	logger *slog.Logger

	decoder *utils.SafeCommand
	out     io.ReadCloser
	buf     []byte
	next    int // index of the frame the decoder will produce next
	skipTo  int // frames below this index are discarded
	done    bool
	closed  bool
}

// Open probes path and prepares a decoder. The ffmpeg process is started
// lazily on the first call to Next. Any failure is returned as *OpenError.
func Open(ctx context.Context, path string, opts Options) (*FFmpegSource, error) {
	info, err := Probe(ctx, opts.FFprobe, path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, &OpenError{Path: path, Err: errors.Errorf("invalid frame size %dx%d", info.Width, info.Height)}
	}
	if info.FPS <= 0 {
		return nil, &OpenError{Path: path, Err: errors.New("unable to determine frame rate")}
	}

	ffmpeg := opts.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FFmpegSource{
		ctx:    ctx,
		path:   path,
		info:   info,
		ffmpeg: ffmpeg,
		logger: logger,
	}, nil
}

// Info returns the probed metadata.
func (s *FFmpegSource) Info() VideoInfo { return *s.info }

func (s *FFmpegSource) FPS() float64 { return s.info.FPS }

func (s *FFmpegSource) FrameCount() int { return s.info.FrameCount }

// Seek moves forward by discarding frames, or restarts the decoder when
// asked to go back, including after the stream has ended.
func (s *FFmpegSource) Seek(index int) error {
	if s.closed {
		return errors.New("seek on closed source")
	}
	if index < 0 {
		return errors.Errorf("invalid frame index %d", index)
	}
	if index < s.next {
		s.stop()
		s.done = false
		s.next = 0
	}
	s.skipTo = index
	return nil
}

// Next returns the next frame. The returned pixels alias an internal buffer
// that is overwritten by the following call.
func (s *FFmpegSource) Next() (types.FrameHandle, error) {
	if s.done {
		return types.FrameHandle{}, io.EOF
	}
	if s.decoder == nil {
		if err := s.start(); err != nil {
			s.logger.Debug("decoder failed to start", "path", s.path, "error", err)
			s.done = true
			return types.FrameHandle{}, io.EOF
		}
	}

	for {
		if _, err := io.ReadFull(s.out, s.buf); err != nil {
			// EOF, a truncated final frame or a decoder crash all end the stream
			s.finish(err)
			return types.FrameHandle{}, io.EOF
		}
		idx := s.next
		s.next++
		if idx < s.skipTo {
			continue
		}

		w, h := s.info.Width, s.info.Height
		return types.FrameHandle{
			Index:     idx,
			Timestamp: float64(idx) / s.info.FPS,
			Pixels: &image.RGBA{
				Pix:    s.buf,
				Stride: w * 4,
				Rect:   image.Rect(0, 0, w, h),
			},
		}, nil
	}
}

// Close kills the decoder if it is still running. It is safe to call twice.
func (s *FFmpegSource) Close() error {
	s.stop()
	s.done = true
	s.closed = true
	return nil
}

func (s *FFmpegSource) start() error {
	s.decoder = NewRawDecoder(s.ctx, s.ffmpeg, s.path)
	out, err := s.decoder.StdoutPipe()
	if err != nil {
		s.decoder = nil
		return errors.Wrap(err, "failed to create decoder pipe")
	}
	if err := s.decoder.Start(); err != nil {
		s.decoder = nil
		return errors.Wrap(err, "failed to start decoder")
	}
	s.out = out
	if frameSize := s.info.Width * s.info.Height * 4; cap(s.buf) < frameSize {
		s.buf = make([]byte, frameSize)
	} else {
		s.buf = s.buf[:frameSize]
	}
	return nil
}

func (s *FFmpegSource) finish(readErr error) {
	if s.decoder == nil {
		s.done = true
		return
	}
	waitErr := s.decoder.Wait()
	if waitErr != nil || (readErr != nil && readErr != io.EOF) {
		s.logger.Debug("decoder stopped early",
			"path", s.path,
			"frames", s.next,
			"read_error", readErr,
			"exit_error", waitErr,
			"stderr", strings.TrimSpace(s.decoder.Stderr.String()),
		)
	}
	s.decoder = nil
	s.out = nil
	s.done = true
}

func (s *FFmpegSource) stop() {
	if s.decoder == nil {
		return
	}
	if s.decoder.Process != nil {
		_ = s.decoder.Process.Kill()
	}
	_ = s.decoder.Wait()
	s.decoder = nil
	s.out = nil
}

// NewRawDecoder builds an ffmpeg command that writes raw RGBA frames to stdout.
// -loglevel error keeps the captured stderr small on long videos. ffmpeg
// autorotates, so frames have the display size Probe reports.
func NewRawDecoder(ctx context.Context, ffmpeg, inputPath string) *utils.SafeCommand {
	return utils.Capture(commandContext(ctx, ffmpeg,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", inputPath,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	))
}
