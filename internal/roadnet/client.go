// Package roadnet talks to an OSRM-compatible road routing API.
package roadnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fleetsim/internal/geo"
	"fleetsim/internal/metrics"
)

// ErrBatchUnsupported is returned by Table when the batched endpoint is disabled.
var ErrBatchUnsupported = errors.New("roadnet: batch table endpoint unsupported")

type Config struct {
	BaseURL      string
	Profile      string
	BatchEnabled bool
	// RequestsPerSecond <= 0 disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	HTTP              *http.Client
}

type Client struct {
	baseURL     string
	profile     string
	batch       bool
	maxAttempts int
	session     *http.Client
	limiter     *rate.Limiter
}

func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		profile:     cfg.Profile,
		batch:       cfg.BatchEnabled,
		maxAttempts: cfg.MaxAttempts,
		session:     cfg.HTTP,
	}
	if c.profile == "" {
		c.profile = "driving"
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.session == nil {
		c.session = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Table is the raw batched matrix. Cells are nil when the API found no route.
type Table struct {
	Durations [][]*float64 // seconds
	Distances [][]*float64 // metres
}

type Route struct {
	DistanceM float64
	DurationS float64
	Geometry  []geo.Coordinate
}

type tableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Durations [][]*float64 `json:"durations"`
	Distances [][]*float64 `json:"distances"`
}

type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Table requests the full N×N duration/distance matrix in one call.
func (c *Client) Table(ctx context.Context, coords []geo.Coordinate) (Table, error) {
	if !c.batch {
		return Table{}, ErrBatchUnsupported
	}
	if len(coords) < 2 {
		return Table{}, fmt.Errorf("table: need at least 2 coordinates, got %d", len(coords))
	}
	endpoint := fmt.Sprintf("%s/table/v1/%s/%s?annotations=duration,distance", c.baseURL, c.profile, encodeCoords(coords))

	var tr tableResponse
	if err := c.getJSON(ctx, "table", endpoint, &tr); err != nil {
		return Table{}, fmt.Errorf("table request failed: %w", err)
	}
	if tr.Code != "Ok" {
		return Table{}, fmt.Errorf("table: api code %q: %s", tr.Code, tr.Message)
	}
	n := len(coords)
	if err := checkShape(tr.Durations, n); err != nil {
		return Table{}, fmt.Errorf("table durations: %w", err)
	}
	if err := checkShape(tr.Distances, n); err != nil {
		return Table{}, fmt.Errorf("table distances: %w", err)
	}
	return Table{Durations: tr.Durations, Distances: tr.Distances}, nil
}

// Route requests the road route through coords in order.
func (c *Client) Route(ctx context.Context, coords []geo.Coordinate) (Route, error) {
	if len(coords) < 2 {
		return Route{}, fmt.Errorf("route: need at least 2 coordinates, got %d", len(coords))
	}
	endpoint := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=geojson", c.baseURL, c.profile, encodeCoords(coords))

	var rr routeResponse
	if err := c.getJSON(ctx, "route", endpoint, &rr); err != nil {
		return Route{}, fmt.Errorf("route request failed: %w", err)
	}
	if rr.Code != "Ok" || len(rr.Routes) == 0 {
		return Route{}, fmt.Errorf("route: api code %q: %s", rr.Code, rr.Message)
	}
	best := rr.Routes[0]
	out := Route{DistanceM: best.Distance, DurationS: best.Duration}
	for _, p := range best.Geometry.Coordinates {
		if len(p) < 2 {
			continue
		}
		out.Geometry = append(out.Geometry, geo.Coordinate{Lat: p[1], Lng: p[0]})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, endpointName, url string, v any) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RoadRequests.WithLabelValues(endpointName, outcome).Inc()
	}()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, url)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", endpointName, err)
	}
	return nil
}

func checkShape(m [][]*float64, n int) error {
	if len(m) != n {
		return fmt.Errorf("expected %d rows, got %d", n, len(m))
	}
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("row %d: expected %d columns, got %d", i, n, len(row))
		}
	}
	return nil
}

// encodeCoords renders coordinates in the API's lng,lat;lng,lat path form.
func encodeCoords(coords []geo.Coordinate) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = fmt.Sprintf("%.6f,%.6f", c.Lng, c.Lat)
	}
	return strings.Join(parts, ";")
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries network errors and 429/5xx responses with exponential
// backoff while respecting context cancellation.
func (c *Client) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := 200 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) && ctx.Err() == nil {
			retry = true
		}
		if !retry || attempt == c.maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}
