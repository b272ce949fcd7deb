package models

import (
	"fmt"
	"math"
	"time"
)

// Preference defaults and limits
const (
	DefaultRadarOpacity = 0.7
	DefaultMapLat       = 64.5
	DefaultMapLng       = 26.0
	DefaultMapZoom      = 4
	MinMapZoom          = 1
	MaxMapZoom          = 8
)

// MapPosition is the persisted map centre and zoom
type MapPosition struct {
	Lat  float64 `json:"lat" db:"map_lat"`
	Lng  float64 `json:"lng" db:"map_lng"`
	Zoom int     `json:"zoom" db:"map_zoom"`
}

// Preferences are the per-client viewer settings
type Preferences struct {
	ClientID     string  `json:"client_id" db:"client_id"`
	ActiveLayer  Layer   `json:"active_layer" db:"active_layer"`
	RadarOpacity float64 `json:"radar_opacity" db:"radar_opacity"`
	MapPosition
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultPreferences returns the settings of a first-time client
func DefaultPreferences(clientID string) *Preferences {
	return &Preferences{
		ClientID:     clientID,
		RadarOpacity: DefaultRadarOpacity,
		MapPosition: MapPosition{
			Lat:  DefaultMapLat,
			Lng:  DefaultMapLng,
			Zoom: DefaultMapZoom,
		},
	}
}

// LayerEnabled reports whether l is the active layer
func (p *Preferences) LayerEnabled(l Layer) bool {
	return p.ActiveLayer != "" && p.ActiveLayer == l
}

// SetLayer turns a layer on (exclusively) or off
func (p *Preferences) SetLayer(l Layer, enabled bool) {
	if enabled {
		p.ActiveLayer = l
		return
	}
	if p.ActiveLayer == l {
		p.ActiveLayer = ""
	}
}

// Toggles expands the active layer into one flag per layer
func (p *Preferences) Toggles() map[Layer]bool {
	toggles := make(map[Layer]bool, len(LayerOrder))
	for _, l := range LayerOrder {
		toggles[l] = p.LayerEnabled(l)
	}
	return toggles
}

// ExclusiveLayer picks the first enabled layer in LayerOrder, or "" if none
func ExclusiveLayer(toggles map[Layer]bool) Layer {
	for _, l := range LayerOrder {
		if toggles[l] {
			return l
		}
	}
	return ""
}

// Validate checks value ranges
func (p *Preferences) Validate() error {
	if p.ActiveLayer != "" {
		if _, err := ParseLayer(string(p.ActiveLayer)); err != nil {
			return err
		}
	}
	if math.IsNaN(p.RadarOpacity) || p.RadarOpacity < 0 || p.RadarOpacity > 1 {
		return &ValidationError{
			Field:   "radar_opacity",
			Value:   fmt.Sprintf("%v", p.RadarOpacity),
			Message: "radar opacity must be between 0 and 1",
		}
	}
	return p.MapPosition.Validate()
}

// Validate checks that the position is finite and the zoom is within the map limits
func (m MapPosition) Validate() error {
	if math.IsNaN(m.Lat) || math.IsInf(m.Lat, 0) || m.Lat < -90 || m.Lat > 90 {
		return &ValidationError{
			Field:   "lat",
			Value:   fmt.Sprintf("%v", m.Lat),
			Message: "latitude must be a finite value between -90 and 90",
		}
	}
	if math.IsNaN(m.Lng) || math.IsInf(m.Lng, 0) || m.Lng < -180 || m.Lng > 180 {
		return &ValidationError{
			Field:   "lng",
			Value:   fmt.Sprintf("%v", m.Lng),
			Message: "longitude must be a finite value between -180 and 180",
		}
	}
	if m.Zoom < MinMapZoom || m.Zoom > MaxMapZoom {
		return &ValidationError{
			Field:   "zoom",
			Value:   fmt.Sprintf("%d", m.Zoom),
			Message: fmt.Sprintf("zoom must be between %d and %d", MinMapZoom, MaxMapZoom),
		}
	}
	return nil
}

// RefreshRun records one completed data refresh
type RefreshRun struct {
	ID           string    `json:"id" db:"id"`
	Trigger      string    `json:"trigger" db:"run_trigger"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	DurationMS   int64     `json:"duration_ms" db:"duration_ms"`
	StrikeCount  int       `json:"strike_count" db:"strike_count"`
	StationCount int       `json:"station_count" db:"station_count"`
	ErrorCount   int       `json:"error_count" db:"error_count"`
}

// Refresh triggers
const (
	TriggerStartup = "startup"
	TriggerTimer   = "timer"
	TriggerManual  = "manual"
	TriggerResume  = "resume"
)
