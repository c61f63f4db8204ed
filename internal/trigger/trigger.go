// Package trigger loads the reference images a video is scanned for.
package trigger

import (
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	// Formats beyond the stdlib decoders registered by imaging
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultThreshold is used when a trigger source does not set one.
const DefaultThreshold = 0.8

// Source describes a trigger image before it is decoded.
type Source struct {
	Path      string
	Threshold float64
	Label     string
}

// Spec is a decoded, immutable trigger.
type Spec struct {
	Path      string
	Label     string
	Threshold float64
	Image     image.Image
}

// LoadError reports a trigger image that could not be used. The remaining
// triggers are still loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("trigger %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NoValidTriggersError means none of the trigger images could be loaded.
type NoValidTriggersError struct {
	Failures []*LoadError
}

func (e *NoValidTriggersError) Error() string {
	if len(e.Failures) == 0 {
		return "no trigger images given"
	}
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return "no valid trigger images: " + strings.Join(msgs, "; ")
}

// Set is an ordered, read-only collection of triggers. Declaration order is
// the tie-break order used during detection. A Set is safe for concurrent use.
type Set struct {
	specs    []Spec
	failures []*LoadError
}

// Load decodes every source eagerly. Sources that fail to decode (or carry an
// invalid threshold) are recorded in Failures and skipped. If nothing loads,
// Load returns a *NoValidTriggersError.
func Load(sources []Source) (*Set, error) {
	s := &Set{}
	for _, src := range sources {
		spec, err := load(src)
		if err != nil {
			s.failures = append(s.failures, &LoadError{Path: src.Path, Err: err})
			continue
		}
		s.specs = append(s.specs, spec)
	}

	if len(s.specs) == 0 {
		return nil, &NoValidTriggersError{Failures: s.failures}
	}
	return s, nil
}

func load(src Source) (Spec, error) {
	threshold := src.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return Spec{}, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}

	img, err := imaging.Open(src.Path, imaging.AutoOrientation(true))
	if err != nil {
		return Spec{}, err
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return Spec{}, fmt.Errorf("image has no pixels")
	}

	label := src.Label
	if label == "" {
		label = filepath.Base(src.Path)
	}

	return Spec{
		Path:      src.Path,
		Label:     label,
		Threshold: threshold,
		Image:     img,
	}, nil
}

// Len returns the number of loaded triggers.
func (s *Set) Len() int { return len(s.specs) }

// At returns the i-th trigger in declaration order.
func (s *Set) At(i int) Spec { return s.specs[i] }

// Specs returns a copy of the loaded triggers.
func (s *Set) Specs() []Spec {
	out := make([]Spec, len(s.specs))
	copy(out, s.specs)
	return out
}

// Failures lists the sources that were skipped during Load.
func (s *Set) Failures() []*LoadError {
	out := make([]*LoadError, len(s.failures))
	copy(out, s.failures)
	return out
}

// ParseSource parses a CLI trigger argument of the form
// "path[:threshold[:label]]". An empty threshold falls back to def.
func ParseSource(arg string, def float64) (Source, error) {
	parts := strings.SplitN(arg, ":", 3)
	src := Source{Path: parts[0], Threshold: def}
	if src.Path == "" {
		return Source{}, fmt.Errorf("empty trigger path in %q", arg)
	}

	if len(parts) > 1 && parts[1] != "" {
		thr, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return Source{}, fmt.Errorf("invalid threshold in %q: %w", arg, err)
		}
		src.Threshold = thr
	}
	if src.Threshold <= 0 || src.Threshold > 1 {
		return Source{}, fmt.Errorf("threshold must be between 0.0 and 1.0, got %f", src.Threshold)
	}
	if len(parts) > 2 {
		src.Label = parts[2]
	}
	return src, nil
}

// NewSet builds a Set from already decoded specs. Specs with an empty label
// get their base path as label.
func NewSet(specs ...Spec) (*Set, error) {
	s := &Set{}
	for _, spec := range specs {
		if spec.Threshold <= 0 || spec.Threshold > 1 {
			return nil, fmt.Errorf("trigger %q: threshold must be in (0, 1], got %v", spec.Label, spec.Threshold)
		}
		if spec.Image == nil || spec.Image.Bounds().Empty() {
			return nil, fmt.Errorf("trigger %q: image has no pixels", spec.Label)
		}
		if spec.Label == "" {
			spec.Label = filepath.Base(spec.Path)
		}
		s.specs = append(s.specs, spec)
	}
	if len(s.specs) == 0 {
		return nil, &NoValidTriggersError{}
	}
	return s, nil
}
