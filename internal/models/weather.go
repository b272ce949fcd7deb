package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Layer identifies one of the overlay layers a viewer can show
type Layer string

const (
	LayerLightning   Layer = "lightning"
	LayerTemperature Layer = "temperature"
	LayerWind        Layer = "wind"
	LayerClouds      Layer = "clouds"
	LayerHumidity    Layer = "humidity"
	LayerPressure    Layer = "pressure"
)

// LayerOrder is the order layers are listed in; when several are enabled at
// once the first one wins.
var LayerOrder = []Layer{
	LayerLightning,
	LayerTemperature,
	LayerWind,
	LayerClouds,
	LayerHumidity,
	LayerPressure,
}

// ParseLayer validates a layer name
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range LayerOrder {
		if l == known {
			return l, nil
		}
	}
	return "", &ValidationError{
		Field:   "layer",
		Value:   s,
		Message: fmt.Sprintf("unknown layer %q", s),
	}
}

// IsStation reports whether the layer is made of station observations
func (l Layer) IsStation() bool {
	return l != LayerLightning && l != ""
}

// Parameter returns the FMI observation parameter behind a single-parameter layer.
// Wind is composed of two parameters and lightning has its own query.
func (l Layer) Parameter() string {
	switch l {
	case LayerTemperature:
		return "temperature"
	case LayerClouds:
		return "n_man"
	case LayerHumidity:
		return "humidity"
	case LayerPressure:
		return "pressure"
	default:
		return ""
	}
}

// StationObservation is the latest valid value of one parameter at one station
type StationObservation struct {
	Lat     float64   `json:"lat"`
	Lng     float64   `json:"lng"`
	Value   float64   `json:"value"`
	Time    time.Time `json:"time"`
	Station string    `json:"station"`
	FMISID  string    `json:"fmisid,omitempty"`
}

// WindObservation merges wind speed and direction at one location
type WindObservation struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Direction float64   `json:"direction"`
	Time      time.Time `json:"time"`
	Station   string    `json:"station"`
	FMISID    string    `json:"fmisid,omitempty"`
}

// LightningStrike is a single located strike
type LightningStrike struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Time      time.Time `json:"time"`
	Intensity float64   `json:"intensity"` // kA
}

// Observation limits applied before anything is shown
const (
	MinTemperature = -50.0
	MaxTemperature = 50.0
	MinOktas       = 0
	MaxOktas       = 8
	MaxWindSpeed   = 60.0
)

// FilterTemperature drops readings outside the plausible range
func FilterTemperature(obs []StationObservation) []StationObservation {
	out := make([]StationObservation, 0, len(obs))
	for _, o := range obs {
		if o.Value < MinTemperature || o.Value > MaxTemperature {
			continue
		}
		out = append(out, o)
	}
	return out
}

// FilterClouds rounds cloud cover to whole oktas and drops values outside 0..8
func FilterClouds(obs []StationObservation) []StationObservation {
	out := make([]StationObservation, 0, len(obs))
	for _, o := range obs {
		coverage := math.Round(o.Value)
		if coverage < MinOktas || coverage > MaxOktas {
			continue
		}
		o.Value = coverage
		out = append(out, o)
	}
	return out
}

// NormalizeWind clamps speed to 0..60 m/s and wraps direction into [0, 360)
func NormalizeWind(obs []WindObservation) []WindObservation {
	out := make([]WindObservation, 0, len(obs))
	for _, o := range obs {
		o.Speed = math.Max(0, math.Min(MaxWindSpeed, o.Speed))
		o.Direction = NormalizeDirection(o.Direction)
		out = append(out, o)
	}
	return out
}

// NormalizeDirection wraps degrees into [0, 360)
func NormalizeDirection(deg float64) float64 {
	d := math.Mod(math.Mod(deg, 360)+360, 360)
	if d == 360 {
		return 0
	}
	return d
}

// StatusKind classifies the user visible status line
type StatusKind string

const (
	StatusLoading StatusKind = "loading"
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
)

// Status is the user visible status line
type Status struct {
	Text string     `json:"text"`
	Kind StatusKind `json:"kind"`
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
