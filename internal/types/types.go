package types

import (
	"fmt"
	"image"
	"strings"
)

// FrameHandle is a single decoded frame handed out by a video source.
// Pixels may be backed by a buffer the source reuses on the next decode step.
type FrameHandle struct {
	Index     int
	Timestamp float64 // seconds
	Pixels    image.Image
}

// Match is the first frame that crossed a trigger's threshold.
type Match struct {
	TriggerLabel string
	TriggerIndex int // declaration order in the trigger set
	FrameIndex   int
	Timestamp    float64
	Similarity   float64
}

// Miss summarises a scan that reached the end of the video without a match.
type Miss struct {
	BestTriggerLabel string
	BestSimilarity   float64
	BestFrameIndex   int
	FramesScanned    int
}

func (m Miss) String() string {
	return fmt.Sprintf("no trigger found, best match: %s with %.3f at frame %d", m.BestTriggerLabel, m.BestSimilarity, m.BestFrameIndex)
}

// DetectionResult holds exactly one of Match or Miss.
type DetectionResult struct {
	Match *Match
	Miss  *Miss
}

// Found reports whether a trigger crossed its threshold.
func (r DetectionResult) Found() bool {
	return r.Match != nil
}

// CutMode selects which side of the trigger is kept.
type CutMode int

const (
	// CutAfter keeps [0, trigger).
	CutAfter CutMode = iota
	// CutBefore keeps [trigger, end).
	CutBefore
)

func (m CutMode) String() string {
	switch m {
	case CutAfter:
		return "after"
	case CutBefore:
		return "before"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseCutMode accepts "after" or "before" (case-insensitive).
func ParseCutMode(s string) (CutMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "after":
		return CutAfter, nil
	case "before":
		return CutBefore, nil
	}
	return 0, fmt.Errorf("invalid cut mode '%s'. Must be 'after' or 'before'", s)
}

// CutPlan is the time range of the source to retain.
// A nil RetainDuration means "until the end of the video".
type CutPlan struct {
	SourcePath     string
	Mode           CutMode
	RetainStart    float64
	RetainDuration *float64
	Match          Match
}

// CutOutcome is the result of executing a CutPlan.
type CutOutcome struct {
	Success      bool
	OutputPath   string
	CutPosition  float64
	TriggerLabel string
	Similarity   float64
	Error        string
}
