// Package display formats ages, countdowns and clock labels and maps
// observation values onto the colour ramps used by the viewer.
package display

import (
	"fmt"
	"math"
	"time"
)

// Fixed user facing strings
const (
	Unknown        = "--"
	LiveLabel      = "Nyt (Live)"
	RefreshingText = "Päivitetään..."
	AnimatingText  = "Animaatio"
)

// roundSeconds rounds d to whole seconds, half away from zero
func roundSeconds(d time.Duration) int64 {
	return int64(math.Round(d.Seconds()))
}

// Age formats the time elapsed since t as "Xm YYs sitten", or "--" when t is zero.
// Timestamps in the future count as zero.
func Age(t, now time.Time) string {
	if t.IsZero() {
		return Unknown
	}
	seconds := roundSeconds(now.Sub(t))
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dm %02ds sitten", seconds/60, seconds%60)
}

// Countdown formats the time left until next as "M:SS". While animating it
// reads "Animaatio"; once due it reads "Päivitetään..."; without a scheduled
// refresh it reads "--".
func Countdown(next, now time.Time, animating bool) string {
	if animating {
		return AnimatingText
	}
	if next.IsZero() {
		return Unknown
	}
	remaining := next.Sub(now)
	if remaining <= 0 {
		return RefreshingText
	}
	seconds := roundSeconds(remaining)
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// TimeLabel is the label of the history slider position: "Nyt (Live)" for
// live, otherwise HH:MM of the frame in loc
func TimeLabel(frame time.Time, live bool, loc *time.Location) string {
	if live {
		return LiveLabel
	}
	return frame.In(location(loc)).Format("15:04")
}

// ClockTime formats t as HH:MM:SS in loc
func ClockTime(t time.Time, loc *time.Location) string {
	return t.In(location(loc)).Format("15:04:05")
}

// AgeMinutes returns the whole minutes elapsed since t, rounded
func AgeMinutes(t, now time.Time) int {
	return int(math.Round(now.Sub(t).Minutes()))
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
