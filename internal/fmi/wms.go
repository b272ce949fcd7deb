package fmi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/pkg/logging"
)

// ErrNoTimeDimension is returned when the capabilities document has no usable time dimension
var ErrNoTimeDimension = errors.New("no time dimension in WMS capabilities")

// FetchLatestRadarTime reads the WMS capabilities and returns the end of the
// radar layer's time extent
func (c *Client) FetchLatestRadarTime(ctx context.Context) (time.Time, error) {
	q := url.Values{}
	q.Set("service", "WMS")
	q.Set("version", "1.1.1")
	q.Set("request", "GetCapabilities")

	body, err := c.get(ctx, SourceCapabilities, c.config.WMSURL+"?"+q.Encode())
	if err != nil {
		return time.Time{}, err
	}

	root, err := c.parse(SourceCapabilities, body)
	if err != nil {
		return time.Time{}, err
	}

	end, err := latestRadarTime(root, c.config.RadarLayer)
	if err != nil {
		c.metrics.RecordFetchError(SourceCapabilities, "no_time_dimension")
		return time.Time{}, err
	}

	c.logger.Debug(ctx, "[FMI_CAPABILITIES] Radar time extent read", logging.Fields{
		"layer":  c.config.RadarLayer,
		"latest": end.UTC().Format(time.RFC3339),
	})

	return end, nil
}

// FetchRadarTimes returns steps+1 radar times, newest first, ending at the
// latest time advertised by the WMS
func (c *Client) FetchRadarTimes(ctx context.Context, steps int, step time.Duration) ([]time.Time, error) {
	end, err := c.FetchLatestRadarTime(ctx)
	if err != nil {
		return nil, err
	}
	return radar.BuildTimes(end, steps, step), nil
}

// latestRadarTime looks for the time dimension of the named layer first and
// falls back to the first time dimension in the document
func latestRadarTime(root *node, layer string) (time.Time, error) {
	if layerNode := root.findWhere("Layer", hasChildName(layer)); layerNode != nil {
		if t, ok := timeExtentEnd(layerNode); ok {
			return t, nil
		}
	}
	if t, ok := timeExtentEnd(root); ok {
		return t, nil
	}
	return time.Time{}, ErrNoTimeDimension
}

func hasChildName(name string) func(*node) bool {
	return func(n *node) bool {
		for i := range n.Nodes {
			if n.Nodes[i].name() == "Name" && n.Nodes[i].text() == name {
				return true
			}
		}
		return false
	}
}

// timeExtentEnd scans Dimension and Extent elements named "time" in document
// order and returns the end of the first one that holds an interval or list
func timeExtentEnd(root *node) (time.Time, bool) {
	var found *time.Time

	var walk func(n *node) bool
	walk = func(n *node) bool {
		for i := range n.Nodes {
			c := &n.Nodes[i]
			if isTimeDimension(c) {
				if t, ok := parseTimeExtent(c.text()); ok {
					found = &t
					return true
				}
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)

	if found == nil {
		return time.Time{}, false
	}
	return *found, true
}

func isTimeDimension(n *node) bool {
	name := strings.ToLower(n.name())
	if name != "dimension" && name != "extent" {
		return false
	}
	v, ok := n.attr("name")
	return ok && v == "time"
}

// parseTimeExtent reads "start/end/period" intervals and comma separated
// lists (of times or intervals) and returns the latest end time
func parseTimeExtent(content string) (time.Time, bool) {
	if !strings.Contains(content, "/") && !strings.Contains(content, ",") {
		return time.Time{}, false
	}

	var (
		latest time.Time
		ok     bool
	)
	for _, item := range strings.Split(content, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		candidate := item
		if parts := strings.Split(item, "/"); len(parts) >= 2 {
			candidate = parts[1]
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(candidate))
		if err != nil {
			continue
		}
		if !ok || t.After(latest) {
			latest, ok = t, true
		}
	}
	return latest, ok
}

// GetMapURL builds the WMS GetMap request for a radar frame. Live frames carry no time parameter.
func (c *Client) GetMapURL(frame radar.Frame) string {
	return GetMapURL(c.config.WMSURL, c.config.RadarLayer, frame)
}

// GetMapURL builds a WMS 1.1.1 GetMap URL against an arbitrary endpoint
func GetMapURL(base, layer string, frame radar.Frame) string {
	q := url.Values{}
	q.Set("service", "WMS")
	q.Set("version", "1.1.1")
	q.Set("request", "GetMap")
	q.Set("layers", layer)
	q.Set("styles", "")
	q.Set("format", "image/png")
	q.Set("transparent", "true")
	q.Set("width", strconv.Itoa(frame.Viewport.Width))
	q.Set("height", strconv.Itoa(frame.Viewport.Height))
	q.Set("srs", "EPSG:3067")
	q.Set("bbox", frame.Viewport.BBox())
	if !frame.Live() {
		q.Set("time", radar.FormatISO(frame.Time))
	}
	return base + "?" + q.Encode()
}

// FetchMap downloads the PNG of one radar frame
func (c *Client) FetchMap(ctx context.Context, frame radar.Frame) ([]byte, string, error) {
	body, contentType, err := c.fetch(ctx, SourceMap, c.GetMapURL(frame))
	if err != nil {
		return nil, "", err
	}
	// WMS reports errors as XML service exceptions with status 200
	if !strings.HasPrefix(contentType, "image/") {
		c.metrics.RecordFetchError(SourceMap, "service_exception")
		return nil, "", fmt.Errorf("radar frame %s: unexpected content type %q", radar.TimeKey(frame.Time), contentType)
	}
	return body, contentType, nil
}
