package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Storage and QC bounds.
	DBPath    string
	RulesPath string
	QMax      float64

	// Forecast scheduler.
	ModelInterval    time.Duration
	ForecastHorizons []int

	// Open-Meteo rain lookup.
	WeatherLat      float64
	WeatherLon      float64
	WeatherTimeout  time.Duration
	WeatherCacheTTL time.Duration
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", "1s")
	if err != nil {
		return nil, err
	}
	modelInterval, err := parseDuration("MODEL_INTERVAL", "10m")
	if err != nil {
		return nil, err
	}
	weatherTimeout, err := parseDuration("WEATHER_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	weatherCacheTTL, err := parseDuration("WEATHER_CACHE_TTL", "10m")
	if err != nil {
		return nil, err
	}

	batchSize, err := parseInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}

	qMax, err := parseFloat("Q_MAX", 1000.0)
	if err != nil {
		return nil, err
	}
	weatherLat, err := parseFloat("WEATHER_LAT", 18.7877)
	if err != nil {
		return nil, err
	}
	weatherLon, err := parseFloat("WEATHER_LON", 98.9931)
	if err != nil {
		return nil, err
	}

	horizons, err := parseHorizons(envOrDefault("FORECAST_HORIZONS", "1,3,6,12,24"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "flood-telemetry-raw"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "flood-telemetry-derived"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "flood-telemetry-etl"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DBPath:    envOrDefault("DB_PATH", "data/flood.sqlite"),
		RulesPath: os.Getenv("RULES_PATH"),
		QMax:      qMax,

		ModelInterval:    modelInterval,
		ForecastHorizons: horizons,

		WeatherLat:      weatherLat,
		WeatherLon:      weatherLon,
		WeatherTimeout:  weatherTimeout,
		WeatherCacheTTL: weatherCacheTTL,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("BATCH_SIZE must be positive")
	}
	if cfg.ModelInterval <= 0 {
		return nil, errors.New("MODEL_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func parseHorizons(s string) ([]int, error) {
	var horizons []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.Atoi(part)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid FORECAST_HORIZONS entry %q", part)
		}
		horizons = append(horizons, h)
	}
	if len(horizons) == 0 {
		return nil, errors.New("FORECAST_HORIZONS is empty")
	}
	return horizons, nil
}
