package fmi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// Default endpoints and query parameters of the FMI open data services
const (
	DefaultWFSURL     = "https://opendata.fmi.fi/wfs"
	DefaultWMSURL     = "https://openwms.fmi.fi/geoserver/Radar/wms"
	DefaultRadarLayer = "Radar:suomi_dbz_eureffin"
	DefaultBBox       = "19,59,32,71"
	DefaultTimeout    = 10 * time.Second
	DefaultWindow     = 30 * time.Minute

	lightningQuery   = "fmi::observations::lightning::simple"
	observationQuery = "fmi::observations::weather::timevaluepair"

	maxResponseBytes = 32 << 20
)

// Fetch sources used for metrics and logs
const (
	SourceLightning    = "lightning"
	SourceCapabilities = "capabilities"
	SourceMap          = "map"
)

// Config configures the FMI client
type Config struct {
	WFSURL     string
	WMSURL     string
	RadarLayer string
	BBox       string
	Timeout    time.Duration
	Window     time.Duration
	UserAgent  string
}

// HTTPError is returned for non-2xx responses
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsTransient reports whether retrying later may succeed
func (e *HTTPError) IsTransient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client fetches lightning, station observations and radar data from FMI
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
	now        func() time.Time
}

// NewClient creates a new FMI client; zero config fields take the public defaults
func NewClient(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	if cfg.WFSURL == "" {
		cfg.WFSURL = DefaultWFSURL
	}
	if cfg.WMSURL == "" {
		cfg.WMSURL = DefaultWMSURL
	}
	if cfg.RadarLayer == "" {
		cfg.RadarLayer = DefaultRadarLayer
	}
	if cfg.BBox == "" {
		cfg.BBox = DefaultBBox
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
		metrics:    metricsCollector,
		now:        time.Now,
	}
}

// RadarLayer returns the configured WMS layer name
func (c *Client) RadarLayer() string {
	return c.config.RadarLayer
}

// WMSURL returns the configured WMS endpoint
func (c *Client) WMSURL() string {
	return c.config.WMSURL
}

func (c *Client) wfsURL(storedQuery string, extra url.Values, start, end time.Time) string {
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", "2.0.0")
	q.Set("request", "getFeature")
	q.Set("storedquery_id", storedQuery)
	for k, v := range extra {
		q[k] = v
	}
	q.Set("starttime", start.UTC().Format(time.RFC3339))
	q.Set("endtime", end.UTC().Format(time.RFC3339))
	q.Set("bbox", c.config.BBox)
	return c.config.WFSURL + "?" + q.Encode()
}

// get performs a GET and returns the body; non-2xx responses are errors
func (c *Client) get(ctx context.Context, source, rawURL string) ([]byte, error) {
	body, _, err := c.fetch(ctx, source, rawURL)
	return body, err
}

// fetch is get that also returns the response content type
func (c *Client) fetch(ctx context.Context, source, rawURL string) ([]byte, string, error) {
	timer := c.metrics.NewTimer(c.metrics.FetchDuration.WithLabelValues(source))
	defer timer.ObserveDuration()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordFetchError(source, fetchErrorType(err))
		return nil, "", fmt.Errorf("request %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		c.metrics.RecordFetchError(source, "http_status")
		return nil, "", &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.RecordFetchError(source, "read_error")
		return nil, "", fmt.Errorf("read %s response: %w", source, err)
	}

	c.logger.Debug(ctx, "[FMI_FETCH] Response received", logging.Fields{
		"source": source,
		"bytes":  len(body),
	})

	return body, resp.Header.Get("Content-Type"), nil
}

func fetchErrorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return "timeout"
	}
	return "transport"
}

func (c *Client) parse(source string, body []byte) (*node, error) {
	root, err := parseXML(body)
	if err != nil {
		c.metrics.RecordFetchError(source, "parse_error")
		return nil, err
	}
	return root, nil
}
