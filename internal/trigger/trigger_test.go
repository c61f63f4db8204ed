package trigger

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		img.Set(i, i, color.White)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPartialFailure(t *testing.T) {
	dir := t.TempDir()
	good := writePNG(t, dir, "logo.png")
	bad := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	second := writePNG(t, dir, "slide.png")

	set, err := Load([]Source{
		{Path: good, Threshold: 0.9},
		{Path: bad, Threshold: 0.9},
		{Path: filepath.Join(dir, "missing.png")},
		{Path: second, Threshold: 0.7, Label: "end slide"},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if set.Len() != 2 {
		t.Fatalf("Expected 2 loaded triggers, got %d", set.Len())
	}
	if got := set.At(0).Label; got != "logo.png" {
		t.Errorf("Expected default label 'logo.png', got %q", got)
	}
	if got := set.At(1).Label; got != "end slide" {
		t.Errorf("Expected label 'end slide', got %q", got)
	}

	failures := set.Failures()
	if len(failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d", len(failures))
	}
	if failures[0].Path != bad {
		t.Errorf("Expected first failure for %s, got %s", bad, failures[0].Path)
	}
}

func TestLoadDefaultThreshold(t *testing.T) {
	dir := t.TempDir()
	set, err := Load([]Source{{Path: writePNG(t, dir, "a.png")}})
	if err != nil {
		t.Fatal(err)
	}
	if got := set.At(0).Threshold; got != DefaultThreshold {
		t.Errorf("Threshold = %v, want %v", got, DefaultThreshold)
	}
}

func TestLoadInvalidThresholdIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png")
	_, err := Load([]Source{{Path: path, Threshold: 1.5}, {Path: path, Threshold: -0.1}})

	var nv *NoValidTriggersError
	if !errors.As(err, &nv) {
		t.Fatalf("Expected NoValidTriggersError, got %v", err)
	}
	if len(nv.Failures) != 2 {
		t.Errorf("Expected 2 failures, got %d", len(nv.Failures))
	}
}

func TestLoadNothingValid(t *testing.T) {
	_, err := Load([]Source{{Path: "/nonexistent/trigger.png"}})
	var nv *NoValidTriggersError
	if !errors.As(err, &nv) {
		t.Fatalf("Expected NoValidTriggersError, got %v", err)
	}

	var le *LoadError
	if !errors.As(nv.Failures[0], &le) || le.Path != "/nonexistent/trigger.png" {
		t.Errorf("Expected LoadError for the missing path, got %+v", nv.Failures[0])
	}

	if _, err := Load(nil); !errors.As(err, &nv) {
		t.Errorf("Load(nil) should fail with NoValidTriggersError, got %v", err)
	}
}

func TestSpecsReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	set, err := Load([]Source{{Path: writePNG(t, dir, "a.png")}})
	if err != nil {
		t.Fatal(err)
	}
	specs := set.Specs()
	specs[0].Label = "mutated"
	if set.At(0).Label != "a.png" {
		t.Error("Specs() exposed internal state")
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		arg     string
		want    Source
		wantErr bool
	}{
		{"logo.png", Source{Path: "logo.png", Threshold: 0.8}, false},
		{"logo.png:0.95", Source{Path: "logo.png", Threshold: 0.95}, false},
		{"logo.png:0.9:Intro Logo", Source{Path: "logo.png", Threshold: 0.9, Label: "Intro Logo"}, false},
		{"logo.png::Intro", Source{Path: "logo.png", Threshold: 0.8, Label: "Intro"}, false},
		{"logo.png:abc", Source{}, true},
		{"logo.png:1.5", Source{}, true},
		{"logo.png:0", Source{}, true},
		{":0.5", Source{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := ParseSource(tt.arg, 0.8)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSource(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSource(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestNewSet(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	set, err := NewSet(Spec{Path: "/x/a.png", Threshold: 0.5, Image: img})
	if err != nil {
		t.Fatal(err)
	}
	if set.At(0).Label != "a.png" {
		t.Errorf("Expected label derived from path, got %q", set.At(0).Label)
	}

	if _, err := NewSet(Spec{Label: "x", Threshold: 0, Image: img}); err == nil {
		t.Error("Expected error for zero threshold")
	}
	if _, err := NewSet(Spec{Label: "x", Threshold: 0.5}); err == nil {
		t.Error("Expected error for missing image")
	}
}
