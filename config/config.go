package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	PlatformURL      string // Base URL of the platform payments API (e.g. http://localhost:8000/api)
	PlatformToken    string // Service token used by cmd/paywatch when none is passed on the command line
	Port             int
	Env              string
	DataDir          string
	PollInterval     time.Duration
	CompletionDelay  time.Duration
	// How long a failed or cancelled session stays readable before the server releases it.
	RetainTerminal   time.Duration
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	SnapshotTTL      time.Duration
	OperatorEndpoint string
	OperatorSecret   string
}

const (
	DefaultPollInterval    = 2000 * time.Millisecond
	DefaultCompletionDelay = 3000 * time.Millisecond
	DefaultRetainTerminal  = 5 * time.Minute
)

func Load() *Config {
	platformURL := os.Getenv("PLATFORM_URL")
	if platformURL == "" {
		platformURL = "http://localhost:8000/api"
	}
	port := 8082
	// Prefer PORT (Render, Fly.io, Railway, etc.) then RECONCILER_PORT
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			port = v
		}
	} else if p := os.Getenv("RECONCILER_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			port = v
		}
	}
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	dataDir := os.Getenv("RECONCILER_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return &Config{
		PlatformURL:      strings.TrimSuffix(platformURL, "/"),
		PlatformToken:    os.Getenv("PLATFORM_TOKEN"),
		Port:             port,
		Env:              env,
		DataDir:          dataDir,
		PollInterval:     millis("POLL_INTERVAL_MS", DefaultPollInterval),
		CompletionDelay:  millis("COMPLETION_DELAY_MS", DefaultCompletionDelay),
		RetainTerminal:   millis("TERMINAL_RETENTION_MS", DefaultRetainTerminal),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		SnapshotTTL:      millis("SNAPSHOT_TTL_MS", 24*time.Hour),
		OperatorEndpoint: os.Getenv("OPERATOR_ENDPOINT"),
		OperatorSecret:   os.Getenv("OPERATOR_SECRET"),
	}
}

// IsProduction reports whether ENVIRONMENT is "production" (case-insensitive).
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RedisAddrs splits REDIS_ADDR on commas; more than one address selects a cluster client.
func (c *Config) RedisAddrs() []string {
	var out []string
	for _, a := range strings.Split(c.RedisAddr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// millis reads a positive millisecond count from env, falling back to def.
func millis(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
