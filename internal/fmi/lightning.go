package fmi

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/pkg/logging"
)

// DefaultIntensity is used when a strike carries no usable peak current
const DefaultIntensity = 50.0

// FetchLightning returns the strikes located in the configured bbox during the
// last query window
func (c *Client) FetchLightning(ctx context.Context) ([]models.LightningStrike, error) {
	end := c.now()
	start := end.Add(-c.config.Window)

	body, err := c.get(ctx, SourceLightning, c.wfsURL(lightningQuery, nil, start, end))
	if err != nil {
		return nil, err
	}

	root, err := c.parse(SourceLightning, body)
	if err != nil {
		return nil, err
	}

	strikes := parseLightning(root, end)

	c.logger.Debug(ctx, "[FMI_LIGHTNING] Strikes parsed", logging.Fields{
		"count": len(strikes),
	})

	return strikes, nil
}

type strikeKey struct {
	pos  string
	time string
}

// parseLightning turns BsWfsElement members into strikes. The simple stored
// query emits one member per (strike, parameter), so members sharing position
// and time are merged into one strike.
func parseLightning(root *node, now time.Time) []models.LightningStrike {
	var (
		order   []strikeKey
		strikes = make(map[strikeKey]*models.LightningStrike)
		current = make(map[strikeKey]bool)
	)

	for _, member := range root.findAll("member") {
		element := member.find("BsWfsElement")
		if element == nil {
			continue
		}

		location := member.find("Location")
		if location == nil {
			continue
		}

		pos := location.find("pos")
		if pos == nil {
			continue
		}

		lat, lng, ok := parsePos(pos.text())
		if !ok {
			continue
		}

		ts := now
		timeText := ""
		if timeEl := member.find("Time"); timeEl != nil {
			timeText = timeEl.text()
			if parsed, err := time.Parse(time.RFC3339, timeText); err == nil {
				ts = parsed
			}
		}

		key := strikeKey{pos: strconv.FormatFloat(lat, 'f', -1, 64) + " " + strconv.FormatFloat(lng, 'f', -1, 64), time: timeText}
		strike, seen := strikes[key]
		if !seen {
			strike = &models.LightningStrike{
				Lat:       lat,
				Lng:       lng,
				Time:      ts,
				Intensity: DefaultIntensity,
			}
			strikes[key] = strike
			order = append(order, key)
		}

		name := ""
		if nameEl := element.find("ParameterName"); nameEl != nil {
			name = nameEl.text()
		}
		if name != "peak_current" || current[key] {
			continue
		}
		if valueEl := element.find("ParameterValue"); valueEl != nil {
			if v, err := strconv.ParseFloat(valueEl.text(), 64); err == nil && !math.IsNaN(v) {
				strike.Intensity = math.Abs(v)
				current[key] = true
			}
		}
	}

	out := make([]models.LightningStrike, 0, len(order))
	for _, key := range order {
		out = append(out, *strikes[key])
	}
	return out
}

// parsePos parses a GML "lat lng" position
func parsePos(s string) (float64, float64, bool) {
	coords := strings.Fields(s)
	if len(coords) < 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(coords[0], 64)
	if err != nil || math.IsNaN(lat) {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(coords[1], 64)
	if err != nil || math.IsNaN(lng) {
		return 0, 0, false
	}
	return lat, lng, true
}
