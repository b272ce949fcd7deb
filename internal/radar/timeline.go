// Package radar holds the radar time list, history step arithmetic and the
// cache of preloaded radar frames.
package radar

import (
	"time"
)

// Defaults for the history timeline
const (
	DefaultStep     = 5 * time.Minute
	DefaultMaxSteps = 12
)

// BuildTimes returns end, end-step, ..., end-steps*step (newest first, steps+1 entries)
func BuildTimes(end time.Time, steps int, step time.Duration) []time.Time {
	if steps < 0 {
		steps = 0
	}
	times := make([]time.Time, 0, steps+1)
	for i := 0; i <= steps; i++ {
		times = append(times, end.Add(-time.Duration(i)*step))
	}
	return times
}

// FallbackTimes builds the time list from now floored to the step boundary
func FallbackTimes(now time.Time, steps int, step time.Duration) []time.Time {
	return BuildTimes(Floor(now, step), steps, step)
}

// Floor truncates t to a multiple of d (minutes to the 5 minute boundary, seconds to zero)
func Floor(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	return t.Truncate(d)
}

// HistoricalTime returns the radar time shown at step. Step 0 is live and has
// no time (ok is false). Steps beyond the known list are computed from now.
func HistoricalTime(step int, times []time.Time, now time.Time, stepDur time.Duration) (time.Time, bool) {
	if step <= 0 {
		return time.Time{}, false
	}
	if len(times) > step {
		return times[step], true
	}
	return Floor(now.Add(-time.Duration(step)*stepDur), stepDur), true
}

// PrevStep moves one frame forward in time during animation, wrapping from live back to the oldest frame
func PrevStep(step, max int) int {
	step--
	if step < 0 {
		return max
	}
	return step
}

// ClampStep limits step to [0, max]
func ClampStep(step, max int) int {
	if step < 0 {
		return 0
	}
	if step > max {
		return max
	}
	return step
}

// SliderValue maps a step onto the history slider, where the right end (max) is live
func SliderValue(step, max int) int {
	return max - ClampStep(step, max)
}

// StepFromSlider is the inverse of SliderValue
func StepFromSlider(value, max int) int {
	return ClampStep(max-value, max)
}

// TimeKey identifies a frame time: "live" for the current frame, otherwise the UTC ISO timestamp
func TimeKey(t time.Time) string {
	if t.IsZero() {
		return "live"
	}
	return FormatISO(t)
}

// FormatISO formats t like the WMS time parameter expects (UTC, millisecond precision)
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
