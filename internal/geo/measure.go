package geo

import (
	"fmt"
	"math"
)

// Resolutions are the metres per pixel of the EPSG:3067 map at zoom 0..14
var Resolutions = []float64{8192, 4096, 2048, 1024, 512, 256, 128, 64, 32, 16, 8, 4, 2, 1, 0.5}

// Distance is the straight-line distance in metres between a and b on the projected plane
func Distance(a, b LatLng) float64 {
	pa, pb := Project(a), Project(b)
	return math.Hypot(pb.X-pa.X, pb.Y-pa.Y)
}

// Resolution returns metres per pixel at zoom. Fractional zooms interpolate
// linearly between neighbouring levels; out of range zooms clamp.
func Resolution(zoom float64) float64 {
	if math.IsNaN(zoom) || zoom < 0 {
		return Resolutions[0]
	}
	idx := int(math.Floor(zoom))
	if idx >= len(Resolutions) {
		return Resolutions[len(Resolutions)-1]
	}
	fraction := zoom - float64(idx)
	if fraction > 0 && idx < len(Resolutions)-1 {
		r1, r2 := Resolutions[idx], Resolutions[idx+1]
		return r1 + (r2-r1)*fraction
	}
	return Resolutions[idx]
}

// FormatDistance renders metres as "N m" below a kilometre and "X.XX km" above
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int64(math.Round(meters)))
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// Midpoint averages the two coordinates; used to place the distance label
func Midpoint(a, b LatLng) LatLng {
	return LatLng{Lat: (a.Lat + b.Lat) / 2, Lng: (a.Lng + b.Lng) / 2}
}

// Measurement is the result of measuring between two points
type Measurement struct {
	From       LatLng  `json:"from"`
	To         LatLng  `json:"to"`
	Meters     float64 `json:"meters"`
	Formatted  string  `json:"formatted"`
	Label      string  `json:"label"`
	Midpoint   LatLng  `json:"midpoint"`
	Zoom       float64 `json:"zoom"`
	Resolution float64 `json:"resolution"`
	Pixels     float64 `json:"pixels"`
}

// Measure measures from a to b and describes the line at zoom
func Measure(a, b LatLng, zoom float64) (Measurement, error) {
	if err := a.Validate(); err != nil {
		return Measurement{}, fmt.Errorf("from: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Measurement{}, fmt.Errorf("to: %w", err)
	}

	meters := Distance(a, b)
	res := Resolution(zoom)
	formatted := FormatDistance(meters)

	return Measurement{
		From:       a,
		To:         b,
		Meters:     meters,
		Formatted:  formatted,
		Label:      "Etäisyys: " + formatted,
		Midpoint:   Midpoint(a, b),
		Zoom:       zoom,
		Resolution: res,
		Pixels:     meters / res,
	}, nil
}
