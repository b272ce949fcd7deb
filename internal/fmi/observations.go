package fmi

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/pkg/logging"
)

const (
	stationNameCodeSpace = "http://xml.fmi.fi/namespace/locationcode/name"
	fmisidCodeSpace      = "http://xml.fmi.fi/namespace/stationcode/fmisid"

	// DefaultStationName labels stations whose name is missing
	DefaultStationName = "Asema"

	paramWindSpeed     = "windspeedms"
	paramWindDirection = "winddirection"
)

// FetchParameter returns the latest valid value of an observation parameter per station
func (c *Client) FetchParameter(ctx context.Context, parameter string) ([]models.StationObservation, error) {
	end := c.now()
	start := end.Add(-c.config.Window)

	extra := url.Values{}
	extra.Set("parameters", parameter)

	body, err := c.get(ctx, parameter, c.wfsURL(observationQuery, extra, start, end))
	if err != nil {
		return nil, err
	}

	root, err := c.parse(parameter, body)
	if err != nil {
		return nil, err
	}

	obs := parseObservations(root)

	c.logger.Debug(ctx, "[FMI_OBSERVATIONS] Observations parsed", logging.Fields{
		"parameter": parameter,
		"stations":  len(obs),
	})

	return obs, nil
}

// FetchLayer fetches the observations behind a single-parameter station layer
func (c *Client) FetchLayer(ctx context.Context, layer models.Layer) ([]models.StationObservation, error) {
	parameter := layer.Parameter()
	if parameter == "" {
		return nil, fmt.Errorf("layer %q has no single observation parameter", layer)
	}
	return c.FetchParameter(ctx, parameter)
}

// FetchWind fetches wind speed and direction in parallel and merges them per location
func (c *Client) FetchWind(ctx context.Context) ([]models.WindObservation, error) {
	var speed, direction []models.StationObservation

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		speed, err = c.FetchParameter(gctx, paramWindSpeed)
		return err
	})
	g.Go(func() error {
		var err error
		direction, err = c.FetchParameter(gctx, paramWindDirection)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch wind: %w", err)
	}

	return MergeWind(speed, direction), nil
}

// MergeWind joins speed and direction readings by location. Entries missing
// either half are dropped; the time is the newer of the two.
func MergeWind(speed, direction []models.StationObservation) []models.WindObservation {
	type entry struct {
		obs              models.WindObservation
		hasSpeed, hasDir bool
	}

	var order []string
	merged := make(map[string]*entry)

	for _, s := range speed {
		key := locationKey(s.Lat, s.Lng)
		e, ok := merged[key]
		if !ok {
			e = &entry{}
			merged[key] = e
			order = append(order, key)
		}
		e.obs = models.WindObservation{
			Lat:     s.Lat,
			Lng:     s.Lng,
			Speed:   s.Value,
			Time:    s.Time,
			Station: s.Station,
			FMISID:  s.FMISID,
		}
		e.hasSpeed = true
	}

	for _, d := range direction {
		key := locationKey(d.Lat, d.Lng)
		e, ok := merged[key]
		if !ok {
			e = &entry{obs: models.WindObservation{
				Lat:     d.Lat,
				Lng:     d.Lng,
				Station: d.Station,
				FMISID:  d.FMISID,
			}}
			merged[key] = e
			order = append(order, key)
		}
		e.obs.Direction = d.Value
		e.hasDir = true
		if e.obs.Time.IsZero() || d.Time.After(e.obs.Time) {
			e.obs.Time = d.Time
		}
	}

	out := make([]models.WindObservation, 0, len(order))
	for _, key := range order {
		e := merged[key]
		if e.hasSpeed && e.hasDir {
			out = append(out, e.obs)
		}
	}
	return out
}

func locationKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f_%.4f", lat, lng)
}

type measurement struct {
	value float64
	time  time.Time
}

// parseObservations reads PointTimeSeriesObservation members and keeps the
// newest valid measurement per location
func parseObservations(root *node) []models.StationObservation {
	var order []string
	locations := make(map[string]*models.StationObservation)

	for _, member := range root.findAll("member") {
		pos := member.find("pos")
		if pos == nil {
			continue
		}

		lat, lng, ok := parsePos(pos.text())
		if !ok {
			continue
		}
		key := locationKey(lat, lng)

		station := DefaultStationName
		if nameEl := member.findWhere("name", hasCodeSpace(stationNameCodeSpace)); nameEl != nil {
			station = nameEl.text()
		}
		fmisid := ""
		if idEl := member.findWhere("identifier", hasCodeSpace(fmisidCodeSpace)); idEl != nil {
			fmisid = idEl.text()
		}

		result := member.find("result")
		if result == nil {
			continue
		}

		latest, ok := latestMeasurement(result)
		if !ok {
			continue
		}

		current, seen := locations[key]
		if seen && !latest.time.After(current.Time) {
			continue
		}
		if !seen {
			order = append(order, key)
		}
		locations[key] = &models.StationObservation{
			Lat:     lat,
			Lng:     lng,
			Value:   latest.value,
			Time:    latest.time,
			Station: station,
			FMISID:  fmisid,
		}
	}

	out := make([]models.StationObservation, 0, len(order))
	for _, key := range order {
		out = append(out, *locations[key])
	}
	return out
}

func latestMeasurement(result *node) (measurement, bool) {
	var (
		latest measurement
		found  bool
	)

	for _, tvp := range result.findAll("MeasurementTVP") {
		timeEl := tvp.find("time")
		valueEl := tvp.find("value")
		if timeEl == nil || valueEl == nil {
			continue
		}

		valueStr := valueEl.text()
		if valueStr == "" || valueStr == "NaN" {
			continue
		}
		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		ts, err := time.Parse(time.RFC3339, timeEl.text())
		if err != nil {
			continue
		}

		if !found || ts.After(latest.time) {
			latest = measurement{value: value, time: ts}
			found = true
		}
	}

	return latest, found
}

func hasCodeSpace(codeSpace string) func(*node) bool {
	return func(n *node) bool {
		v, ok := n.attr("codeSpace")
		return ok && v == codeSpace
	}
}
