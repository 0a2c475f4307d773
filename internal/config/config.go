package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the datafeed server.
type Config struct {
	// Upstream market-data API
	APIBaseURL    string
	WSURL         string
	HTTPTimeoutMS int
	UpstreamRPS   float64

	// HTTP listener
	BindAddr         string
	PortCandidates   []int
	PortAutoFallback bool

	// Host page
	StaticDir      string
	PageConfigPath string

	// Optional sinks
	RecordDir string
	NtfyURL   string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		APIBaseURL:       strings.TrimRight(getEnvOrDefault("DATAFEED_API_BASE_URL", "https://api.dex.guru"), "/"),
		WSURL:            getEnvOrDefault("DATAFEED_WS_URL", "wss://ws.dex.guru/v1/ws/channels"),
		HTTPTimeoutMS:    getEnvIntOrDefault("DATAFEED_HTTP_TIMEOUT_MS", 10000),
		UpstreamRPS:      getEnvFloatOrDefault("DATAFEED_UPSTREAM_RPS", 0),
		BindAddr:         getEnvOrDefault("DATAFEED_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvPortsOrDefault("DATAFEED_PORT_CANDIDATES", nil),
		PortAutoFallback: getEnvBoolOrDefault("DATAFEED_PORT_AUTO_FALLBACK", false),
		StaticDir:        getEnvOrDefault("DATAFEED_STATIC_DIR", "./public/static"),
		PageConfigPath:   os.Getenv("DATAFEED_PAGE_CONFIG"),
		RecordDir:        os.Getenv("DATAFEED_RECORD_DIR"),
		NtfyURL:          os.Getenv("DATAFEED_NTFY_URL"),
		LogLevel:         strings.ToLower(getEnvOrDefault("DATAFEED_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("DATAFEED_LOG_FILE", "logs/tv_datafeed.log"),
	}
	if cfg.HTTPTimeoutMS < 1000 {
		cfg.HTTPTimeoutMS = 1000
	}
	if cfg.UpstreamRPS < 0 {
		cfg.UpstreamRPS = 0
	}
	return cfg, nil
}

// HTTPTimeout returns the upstream request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvPortsOrDefault parses a comma-separated port list, skipping entries
// that are not valid TCP ports.
func getEnvPortsOrDefault(key string, defaultVal []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var ports []int
	for _, part := range strings.Split(val, ",") {
		p, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || p < 1 || p > 65535 {
			slog.Warn("ignoring invalid port candidate", "key", key, "value", part)
			continue
		}
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return defaultVal
	}
	return ports
}
