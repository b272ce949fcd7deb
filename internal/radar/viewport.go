package radar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Viewport is a map extent in EPSG:3067 metres plus its pixel size
type Viewport struct {
	West   float64 `json:"west"`
	South  float64 `json:"south"`
	East   float64 `json:"east"`
	North  float64 `json:"north"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// ParseViewport parses a "west,south,east,north" bbox
func ParseViewport(bbox string, width, height int) (Viewport, error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return Viewport{}, fmt.Errorf("bbox %q must have four values", bbox)
	}

	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Viewport{}, fmt.Errorf("bbox %q: %w", bbox, err)
		}
		vals[i] = v
	}

	v := Viewport{West: vals[0], South: vals[1], East: vals[2], North: vals[3], Width: width, Height: height}
	if err := v.Validate(); err != nil {
		return Viewport{}, err
	}
	return v, nil
}

// Validate checks the extent is non-empty and the image size sane
func (v Viewport) Validate() error {
	for _, c := range [4]float64{v.West, v.South, v.East, v.North} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("bbox %s has a non-finite coordinate", v.BBox())
		}
	}
	if v.East <= v.West || v.North <= v.South {
		return fmt.Errorf("bbox %s is empty", v.BBox())
	}
	if v.Width <= 0 || v.Height <= 0 || v.Width > 4096 || v.Height > 4096 {
		return fmt.Errorf("image size %dx%d out of range", v.Width, v.Height)
	}
	return nil
}

// BBox formats the extent as west,south,east,north
func (v Viewport) BBox() string {
	return strings.Join([]string{
		strconv.FormatFloat(v.West, 'f', -1, 64),
		strconv.FormatFloat(v.South, 'f', -1, 64),
		strconv.FormatFloat(v.East, 'f', -1, 64),
		strconv.FormatFloat(v.North, 'f', -1, 64),
	}, ",")
}

// String identifies the viewport inside cache keys
func (v Viewport) String() string {
	return fmt.Sprintf("%s@%dx%d", v.BBox(), v.Width, v.Height)
}

// Frame is one radar image: a time (zero for live) over a viewport
type Frame struct {
	Time     time.Time
	Viewport Viewport
}

// Live reports whether the frame shows the current radar image
func (f Frame) Live() bool {
	return f.Time.IsZero()
}

// Key is the cache key of the frame
func (f Frame) Key() FrameKey {
	return FrameKey{TimeKey: TimeKey(f.Time), Viewport: f.Viewport.String()}
}

// FrameKey identifies a cached frame
type FrameKey struct {
	TimeKey  string
	Viewport string
}
