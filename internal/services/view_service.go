package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/Dusre/radar/internal/display"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/state"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// FrameFetcher downloads a single radar frame
type FrameFetcher interface {
	FetchMap(ctx context.Context, frame radar.Frame) ([]byte, string, error)
}

// ViewConfig holds the presentation settings of the viewer
type ViewConfig struct {
	MaxHistorySteps int
	HistoryStep     time.Duration
	MaxStrikeAge    time.Duration
	WMSURL          string
	RadarLayer      string
	Location        *time.Location
}

// ViewService turns store snapshots into what the page renders
type ViewService struct {
	cfg     ViewConfig
	store   *state.Store
	cache   *radar.FrameCache
	frames  FrameFetcher
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// StateView is the formatted viewer state pushed to the page
type StateView struct {
	HistoryStep     int                  `json:"history_step"`
	MaxHistorySteps int                  `json:"max_history_steps"`
	SliderValue     int                  `json:"slider_value"`
	Live            bool                 `json:"live"`
	FrameTime       *time.Time           `json:"frame_time,omitempty"`
	TimeLabel       string               `json:"time_label"`
	Animating       bool                 `json:"animating"`
	AutoRefresh     bool                 `json:"auto_refresh"`
	RadarAge        string               `json:"radar_age"`
	LightningAge    string               `json:"lightning_age"`
	Countdown       string               `json:"countdown"`
	Clock           string               `json:"clock"`
	RadarLastUpdate *time.Time           `json:"radar_last_update,omitempty"`
	NewestStrike    *time.Time           `json:"newest_strike,omitempty"`
	NextRefresh     *time.Time           `json:"next_refresh,omitempty"`
	Status          models.Status        `json:"status"`
	StationCounts   map[models.Layer]int `json:"station_counts"`
	RecentStrikes   int                  `json:"recent_strikes"`
	Radar           RadarParams          `json:"radar"`
	Version         uint64               `json:"version"`
}

// RadarParams are the WMS parameters of the radar overlay for the current step
type RadarParams struct {
	URL         string `json:"url"`
	Layer       string `json:"layer"`
	Format      string `json:"format"`
	Transparent bool   `json:"transparent"`
	Time        string `json:"time,omitempty"`
	CacheBust   string `json:"cache_bust"`
}

// Marker is one station or strike on the map
type Marker struct {
	Lat        float64       `json:"lat"`
	Lng        float64       `json:"lng"`
	Value      float64       `json:"value"`
	Label      string        `json:"label"`
	Color      string        `json:"color,omitempty"`
	Background string        `json:"background,omitempty"`
	Extreme    string        `json:"extreme,omitempty"`
	Station    string        `json:"station,omitempty"`
	FMISID     string        `json:"fmisid,omitempty"`
	Time       time.Time     `json:"time"`
	TimeLabel  string        `json:"time_label"`
	AgeMinutes int           `json:"age_minutes"`
	Wind       *WindDetails  `json:"wind,omitempty"`
	Cloud      *CloudDetails `json:"cloud,omitempty"`
}

// WindDetails carries the wind arrow of a marker
type WindDetails struct {
	Speed       float64 `json:"speed"`
	Direction   float64 `json:"direction"`
	Cardinal    string  `json:"cardinal"`
	ArrowColor  string  `json:"arrow_color"`
	ArrowLength float64 `json:"arrow_length"`
}

// CloudDetails carries the cloud cover class of a marker
type CloudDetails struct {
	Oktas       int    `json:"oktas"`
	Percentage  int    `json:"percentage"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// LayerView is the marker list of one layer
type LayerView struct {
	Layer   models.Layer `json:"layer"`
	Count   int          `json:"count"`
	Markers []Marker     `json:"markers"`
}

// NewViewService creates a view service. cache may be nil.
func NewViewService(cfg ViewConfig, store *state.Store, cache *radar.FrameCache, frames FrameFetcher, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ViewService {
	if cfg.MaxHistorySteps < 1 {
		cfg.MaxHistorySteps = radar.DefaultMaxSteps
	}
	if cfg.HistoryStep <= 0 {
		cfg.HistoryStep = radar.DefaultStep
	}
	if cfg.MaxStrikeAge <= 0 {
		cfg.MaxStrikeAge = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &ViewService{
		cfg:     cfg,
		store:   store,
		cache:   cache,
		frames:  frames,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// State formats the current store snapshot
func (s *ViewService) State() *StateView {
	snap := s.store.Snapshot()
	now := s.now()

	frameTime, historical := radar.HistoricalTime(snap.HistoryStep, snap.RadarTimes, now, s.cfg.HistoryStep)

	view := &StateView{
		HistoryStep:     snap.HistoryStep,
		MaxHistorySteps: s.cfg.MaxHistorySteps,
		SliderValue:     radar.SliderValue(snap.HistoryStep, s.cfg.MaxHistorySteps),
		Live:            !historical,
		TimeLabel:       display.TimeLabel(frameTime, !historical, s.cfg.Location),
		Animating:       snap.Animating,
		AutoRefresh:     snap.AutoRefresh,
		RadarAge:        display.Age(snap.RadarLastUpdate, now),
		LightningAge:    display.Age(snap.NewestStrike, now),
		Countdown:       display.Countdown(snap.NextRefresh, now, snap.Animating),
		Clock:           display.ClockTime(now, s.cfg.Location),
		RadarLastUpdate: optionalTime(snap.RadarLastUpdate),
		NewestStrike:    optionalTime(snap.NewestStrike),
		NextRefresh:     optionalTime(snap.NextRefresh),
		Status:          snap.Status,
		StationCounts:   make(map[models.Layer]int, len(models.LayerOrder)),
		RecentStrikes:   len(s.recentStrikes(snap.Lightning, now)),
		Radar: RadarParams{
			URL:         s.cfg.WMSURL,
			Layer:       s.cfg.RadarLayer,
			Format:      "image/png",
			Transparent: true,
			CacheBust:   strconv.FormatInt(snap.RadarLastUpdate.UnixMilli(), 10),
		},
		Version: snap.Version,
	}
	if historical {
		view.FrameTime = optionalTime(frameTime)
		view.Radar.Time = radar.FormatISO(frameTime)
	}
	for _, l := range models.LayerOrder {
		if l.IsStation() {
			view.StationCounts[l] = snap.StationCount(l)
		}
	}

	return view
}

// RadarTimes returns the radar time list, newest first
func (s *ViewService) RadarTimes() []time.Time {
	return s.store.RadarTimes()
}

// Lightning returns the strikes younger than the maximum strike age as a
// GeoJSON FeatureCollection with [lng, lat] points.
func (s *ViewService) Lightning() *geojson.FeatureCollection {
	snap := s.store.Snapshot()
	now := s.now()

	fc := geojson.NewFeatureCollection()
	for _, strike := range s.recentStrikes(snap.Lightning, now) {
		age := now.Sub(strike.Time).Minutes()

		f := geojson.NewPointFeature([]float64{strike.Lng, strike.Lat})
		f.SetProperty("timestamp", strike.Time.UnixMilli())
		f.SetProperty("time", strike.Time.UTC().Format(time.RFC3339))
		f.SetProperty("intensity", strike.Intensity)
		f.SetProperty("age_minutes", age)
		f.SetProperty("color", display.StrikeColor(age))
		fc.AddFeature(f)
	}
	return fc
}

func (s *ViewService) recentStrikes(strikes []models.LightningStrike, now time.Time) []models.LightningStrike {
	out := make([]models.LightningStrike, 0, len(strikes))
	for _, strike := range strikes {
		if now.Sub(strike.Time) < s.cfg.MaxStrikeAge {
			out = append(out, strike)
		}
	}
	return out
}

// Markers returns the formatted markers of a layer
func (s *ViewService) Markers(layer models.Layer) (*LayerView, error) {
	if _, err := models.ParseLayer(string(layer)); err != nil {
		return nil, err
	}

	snap := s.store.Snapshot()
	now := s.now()
	view := &LayerView{Layer: layer, Markers: []Marker{}}

	switch layer {
	case models.LayerLightning:
		for _, strike := range s.recentStrikes(snap.Lightning, now) {
			age := now.Sub(strike.Time).Minutes()
			view.Markers = append(view.Markers, Marker{
				Lat:        strike.Lat,
				Lng:        strike.Lng,
				Value:      strike.Intensity,
				Label:      fmt.Sprintf("%.1f kA", strike.Intensity),
				Color:      display.StrikeColor(age),
				Time:       strike.Time,
				TimeLabel:  display.ClockTime(strike.Time, s.cfg.Location),
				AgeMinutes: display.AgeMinutes(strike.Time, now),
			})
		}
	case models.LayerWind:
		for _, obs := range snap.Wind {
			view.Markers = append(view.Markers, s.windMarker(obs, now))
		}
	default:
		for _, obs := range snap.Observations[layer] {
			view.Markers = append(view.Markers, s.stationMarker(layer, obs, now))
		}
	}

	view.Count = len(view.Markers)
	return view, nil
}

func (s *ViewService) baseMarker(lat, lng float64, station, fmisid string, t, now time.Time) Marker {
	return Marker{
		Lat:        lat,
		Lng:        lng,
		Station:    station,
		FMISID:     fmisid,
		Time:       t,
		TimeLabel:  display.ClockTime(t, s.cfg.Location),
		AgeMinutes: display.AgeMinutes(t, now),
	}
}

func (s *ViewService) stationMarker(layer models.Layer, obs models.StationObservation, now time.Time) Marker {
	m := s.baseMarker(obs.Lat, obs.Lng, obs.Station, obs.FMISID, obs.Time, now)
	m.Value = obs.Value

	switch layer {
	case models.LayerTemperature:
		m.Label = fmt.Sprintf("%.0f°C", obs.Value)
		m.Color = display.TemperatureColor(obs.Value)
		m.Extreme = display.TemperatureExtreme(obs.Value)
	case models.LayerHumidity:
		m.Label = fmt.Sprintf("%.0f%%", obs.Value)
		m.Color = display.HumidityColor(obs.Value)
	case models.LayerPressure:
		m.Label = fmt.Sprintf("%.0f hPa", obs.Value)
		m.Color = display.PressureColor(obs.Value)
		m.Background = display.PressureBackground(obs.Value)
	case models.LayerClouds:
		oktas := int(math.Round(obs.Value))
		cover := display.CloudCover(float64(oktas))
		percentage := int(math.Round(display.CloudPercentage(float64(oktas))))
		m.Label = fmt.Sprintf("%d%%", percentage)
		m.Color = cover.Color
		m.Cloud = &CloudDetails{
			Oktas:       oktas,
			Percentage:  percentage,
			Icon:        cover.Icon,
			Description: cover.Description,
		}
	}
	return m
}

func (s *ViewService) windMarker(obs models.WindObservation, now time.Time) Marker {
	m := s.baseMarker(obs.Lat, obs.Lng, obs.Station, obs.FMISID, obs.Time, now)
	m.Value = obs.Speed
	m.Label = fmt.Sprintf("%.1f m/s", obs.Speed)
	m.Color = display.WindColor(obs.Speed)
	m.Wind = &WindDetails{
		Speed:       obs.Speed,
		Direction:   obs.Direction,
		Cardinal:    display.Cardinal(obs.Direction),
		ArrowColor:  display.WindArrowColor(obs.Speed),
		ArrowLength: display.WindArrowLength(obs.Speed),
	}
	return m
}

// Frame returns the radar image of a history step over a viewport, from the
// frame cache when preloaded and downloaded otherwise.
func (s *ViewService) Frame(ctx context.Context, step int, vp radar.Viewport) (*radar.CachedFrame, error) {
	if step < 0 || step > s.cfg.MaxHistorySteps {
		return nil, &models.ValidationError{
			Field:   "step",
			Value:   strconv.Itoa(step),
			Message: fmt.Sprintf("step must be between 0 and %d", s.cfg.MaxHistorySteps),
		}
	}
	if err := vp.Validate(); err != nil {
		return nil, &models.ValidationError{
			Field:   "bbox",
			Value:   vp.String(),
			Message: err.Error(),
		}
	}

	now := s.now()
	frame := radar.Frame{Viewport: vp}
	if t, ok := radar.HistoricalTime(step, s.store.RadarTimes(), now, s.cfg.HistoryStep); ok {
		frame.Time = t
	}
	key := frame.Key()

	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.RecordFrameCache(true)
			return cached, nil
		}
		s.metrics.RecordFrameCache(false)
	}

	data, contentType, err := s.frames.FetchMap(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch radar frame: %w", err)
	}

	if s.cache != nil {
		s.cache.Put(key, data, contentType)
	}

	s.logger.Debug(ctx, "[VIEW_FRAME_FETCHED] Radar frame downloaded", logging.Fields{
		"step": step,
		"time": key.TimeKey,
	})

	return &radar.CachedFrame{
		Key:         key,
		Data:        data,
		ContentType: contentType,
		FetchedAt:   now,
	}, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
