package video

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// commandContext builds the ffprobe and ffmpeg processes. Tests replace it.
var commandContext = exec.CommandContext

// VideoInfo is the subset of ffprobe metadata the cutter cares about.
// Width and Height are display dimensions: for a stream with a 90 or 270
// degree rotation they are swapped relative to the coded size, matching
// the frames ffmpeg emits after autorotation.
type VideoInfo struct {
	Filename   string  `json:"filename"`
	SizeMB     float64 `json:"file_size_mb"`
	Duration   float64 `json:"duration"`
	BitRate    string  `json:"bit_rate,omitempty"`
	Format     string  `json:"format,omitempty"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Rotation   int     `json:"rotation,omitempty"` // degrees, normalised to [0, 360)
	FPS        float64 `json:"fps"`
	Codec      string  `json:"codec"`
	FrameCount int     `json:"frame_count"` // 0 when unknown; may be estimated from duration
}

// ffprobeOutput mirrors the parts of `ffprobe -show_format -show_streams -of json` we read.
type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Probe reads container and first-video-stream metadata with ffprobe.
// ffprobe is the binary to run; empty means "ffprobe" from PATH.
func Probe(ctx context.Context, ffprobe, path string) (*VideoInfo, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if stat.IsDir() {
		return nil, errors.Errorf("%s is a directory, expected a video file", path)
	}

	cmd := commandContext(ctx, ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "ffprobe failed: %s", strings.TrimSpace(stderr.String()))
	}

	var res ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, errors.Wrap(err, "ffprobe JSON parse error")
	}

	info := &VideoInfo{
		Filename: filepath.Base(path),
		SizeMB:   math.Round(float64(stat.Size())/(1024*1024)*100) / 100,
		BitRate:  res.Format.BitRate,
		Format:   res.Format.FormatName,
	}
	info.Duration, _ = strconv.ParseFloat(res.Format.Duration, 64)

	found := false
	for _, s := range res.Streams {
		if s.CodecType != "video" {
			continue
		}
		found = true
		info.Width = s.Width
		info.Height = s.Height
		info.Codec = s.CodecName
		info.FPS = ParseFrameRate(s.RFrameRate)
		if info.FPS <= 0 {
			info.FPS = ParseFrameRate(s.AvgFrameRate)
		}
		if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
			info.FrameCount = n
		}

		// Older muxers store rotation as a tag, newer ffprobe reports a display matrix
		rotation := 0.0
		if r, err := strconv.ParseFloat(s.Tags.Rotate, 64); err == nil {
			rotation = r
		}
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				rotation = sd.Rotation
			}
		}
		info.Rotation = normaliseRotation(rotation)
		if info.Rotation == 90 || info.Rotation == 270 {
			info.Width, info.Height = info.Height, info.Width
		}
		break
	}
	if !found {
		return nil, errors.New("no video stream found")
	}

	// Fast path metadata is often missing for mkv/webm; fall back to an estimate.
	if info.FrameCount == 0 && info.Duration > 0 && info.FPS > 0 {
		info.FrameCount = int(info.Duration * info.FPS)
	}

	return info, nil
}

// normaliseRotation snaps degrees to a multiple of 90 in [0, 360).
func normaliseRotation(deg float64) int {
	r := int(math.Round(deg/90)) * 90 % 360
	if r < 0 {
		r += 360
	}
	return r
}

// ParseFrameRate converts an ffprobe rational such as "30000/1001" (or a
// plain number) to frames per second. Invalid input yields 0.
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 || n < 0 {
		return 0
	}
	return n / d
}
