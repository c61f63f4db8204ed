// Package similarity scores how alike two images are using whole-frame
// normalized cross-correlation on luminance.
//
// The score is a single correlation value per pair of images, not a sliding
// template search: the trigger is resized to the frame's dimensions and both
// are compared pixel for pixel. It reacts to global appearance changes (scene
// cuts, slides, overlays) and is not meant for object localization.
package similarity

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Plane is a luminance image prepared for correlation: each sample has the
// plane mean subtracted and Norm is the L2 norm of those centered samples.
type Plane struct {
	Width  int
	Height int
	dev    []float64
	Norm   float64
}

// NewPlane converts img to luminance at its native size.
func NewPlane(img image.Image) *Plane {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()

	samples := make([]float64, w*h)
	var sum float64
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		for x := 0; x < w; x++ {
			// Grayscale output has R == G == B
			v := float64(row[x*4])
			samples[y*w+x] = v
			sum += v
		}
	}

	p := &Plane{Width: w, Height: h, dev: samples}
	if len(samples) == 0 {
		return p
	}

	mean := sum / float64(len(samples))
	var sq float64
	for i, v := range samples {
		d := v - mean
		samples[i] = d
		sq += d * d
	}
	p.Norm = math.Sqrt(sq)
	return p
}

// NewTemplate resizes img to w x h with bilinear interpolation (unless it
// already has those dimensions) and converts it to a Plane.
func NewTemplate(img image.Image, w, h int) *Plane {
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		img = imaging.Resize(img, w, h, imaging.Linear)
	}
	return NewPlane(img)
}

// Correlate returns the normalized cross-correlation of two planes clamped to
// [0, 1]. Planes of different sizes, empty planes and zero-variance planes
// score 0.
func Correlate(a, b *Plane) float64 {
	if a == nil || b == nil || a.Width != b.Width || a.Height != b.Height || len(a.dev) == 0 {
		return 0
	}
	if a.Norm == 0 || b.Norm == 0 {
		return 0
	}

	var dot float64
	for i, v := range a.dev {
		dot += v * b.dev[i]
	}
	return clamp(dot / (a.Norm * b.Norm))
}

// Score compares a video frame with a trigger image. The trigger is resized
// to the frame's dimensions first.
func Score(frame, trigger image.Image) float64 {
	fp := NewPlane(frame)
	return Correlate(fp, NewTemplate(trigger, fp.Width, fp.Height))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
