package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hydrowatch/flood-telemetry-service/internal/observability"
)

// RainProvider supplies the forecast precipitation rate for the next hour.
type RainProvider interface {
	RainNextHourMmph(ctx context.Context, lat, lon float64) float64
}

// OpenMeteoClient reads hourly precipitation from the Open-Meteo forecast
// API. Any failure (network, status, shape) degrades to 0.0 mm/h rather
// than an error: alert evaluation keeps running on missing weather data, at
// the cost of possibly under-triggering the early rule.
type OpenMeteoClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
	cache      *rainCache
}

// NewOpenMeteoClient creates a client with response caching. cacheTTL <= 0
// disables the cache.
func NewOpenMeteoClient(timeout, cacheTTL time.Duration, logger *slog.Logger, metrics *observability.Metrics) *OpenMeteoClient {
	return &OpenMeteoClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.open-meteo.com/v1/forecast",
		logger:     logger,
		metrics:    metrics,
		cache:      newRainCache(cacheTTL),
	}
}

type openMeteoResponse struct {
	Hourly struct {
		Precipitation []float64 `json:"precipitation"`
	} `json:"hourly"`
}

// RainNextHourMmph returns the first forecast hour's precipitation in mm/h,
// never negative, 0.0 on any failure.
func (c *OpenMeteoClient) RainNextHourMmph(ctx context.Context, lat, lon float64) float64 {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if v, ok := c.cache.get(key); ok {
		c.metrics.RainLookups.WithLabelValues("hit").Inc()
		return v
	}

	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&hourly=precipitation&forecast_days=1&timezone=auto", c.baseURL, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("weather request build failed, assuming no rain", "error", err)
		c.metrics.RainLookups.WithLabelValues("error").Inc()
		return 0.0
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("weather request failed, assuming no rain", "error", err)
		c.metrics.RainLookups.WithLabelValues("error").Inc()
		return 0.0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("weather request rejected, assuming no rain", "status", resp.StatusCode)
		c.metrics.RainLookups.WithLabelValues("error").Inc()
		return 0.0
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Warn("weather response read failed, assuming no rain", "error", err)
		c.metrics.RainLookups.WithLabelValues("error").Inc()
		return 0.0
	}

	var parsed openMeteoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("weather response parse failed, assuming no rain", "error", err)
		c.metrics.RainLookups.WithLabelValues("error").Inc()
		return 0.0
	}

	c.metrics.RainLookups.WithLabelValues("miss").Inc()
	if len(parsed.Hourly.Precipitation) == 0 {
		return 0.0
	}

	mm := parsed.Hourly.Precipitation[0]
	if mm < 0 {
		mm = 0.0
	}
	c.cache.put(key, mm)
	return mm
}

// rainCache is a small TTL cache so a fleet of nodes sharing one catchment
// does not hammer the weather API every forecast cycle.
type rainCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]rainEntry
}

type rainEntry struct {
	value    float64
	storedAt time.Time
}

func newRainCache(ttl time.Duration) *rainCache {
	return &rainCache{ttl: ttl, entries: make(map[string]rainEntry)}
}

func (c *rainCache) get(key string) (float64, bool) {
	if c.ttl <= 0 {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return 0, false
	}
	return e.value, true
}

func (c *rainCache) put(key string, value float64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = rainEntry{value: value, storedAt: time.Now()}
}
