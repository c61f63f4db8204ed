// Package planner turns a detection result into the time range to keep.
package planner

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/triggercut/internal/types"
)

// ErrEmptyRange reports a plan that retains nothing, i.e. cutting after a
// trigger found on the very first frame. Plan itself still returns such a
// plan; callers check Empty before transcoding.
var ErrEmptyRange = errors.New("cut would produce an empty video")

// NoTriggerFoundError is returned when planning is attempted on a scan that
// found nothing. It carries the scan summary for diagnostics.
type NoTriggerFoundError struct {
	Miss types.Miss
}

func (e *NoTriggerFoundError) Error() string {
	return e.Miss.String()
}

// Plan computes the retained range for result.
//
//	CutAfter:  [0, t)    start 0, duration t
//	CutBefore: [t, end)  start t, no duration
func Plan(result types.DetectionResult, sourcePath string, mode types.CutMode) (types.CutPlan, error) {
	if result.Match == nil {
		var miss types.Miss
		if result.Miss != nil {
			miss = *result.Miss
		}
		return types.CutPlan{}, &NoTriggerFoundError{Miss: miss}
	}

	m := *result.Match
	plan := types.CutPlan{
		SourcePath: sourcePath,
		Mode:       mode,
		Match:      m,
	}

	switch mode {
	case types.CutAfter:
		d := m.Timestamp
		plan.RetainStart = 0
		plan.RetainDuration = &d
	case types.CutBefore:
		plan.RetainStart = m.Timestamp
	default:
		return types.CutPlan{}, fmt.Errorf("unsupported cut mode %v", mode)
	}
	return plan, nil
}

// Empty reports whether plan has a known duration of zero.
func Empty(plan types.CutPlan) bool {
	return plan.RetainDuration != nil && *plan.RetainDuration <= 0
}
