package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Browser origins allowed to call the API
	CORSOrigins []string

	// Library and state
	LibraryDir   string
	StateDir     string
	PersistState bool
	SettingsFile string

	// Worker pools
	FetchWorkers int
	WriteWorkers int
	WriteQueue   int

	// Passage cache
	CacheLimit  int
	CacheWindow int

	// Sessions
	SessionTTL time.Duration

	// Rate limiting, requests per second per client
	RateLimit float64
	RateBurst int

	// Fetch stats window
	StatsWindow time.Duration
}

func Load() Config {
	stateDir := envOr("STATE_DIR", defaultStateDir())

	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey:      os.Getenv("READERD_API_KEY"),
		CORSOrigins: envList("CORS_ORIGINS", []string{"*"}),

		LibraryDir:   envOr("LIBRARY_DIR", "./library"),
		StateDir:     stateDir,
		PersistState: envBool("PERSIST_STATE", true),
		SettingsFile: envOr("SETTINGS_FILE", filepath.Join(stateDir, "settings.yaml")),

		FetchWorkers: envInt("FETCH_WORKERS", 4),
		WriteWorkers: envInt("WRITE_WORKERS", 4),
		WriteQueue:   envInt("WRITE_QUEUE", 64),

		CacheLimit:  envInt("CACHE_LIMIT", 10),
		CacheWindow: envInt("CACHE_WINDOW", 3),

		SessionTTL: envDuration("SESSION_TTL", 30*time.Minute),

		RateLimit: envFloat("RATE_LIMIT", 20),
		RateBurst: envInt("RATE_BURST", 40),

		StatsWindow: envDuration("STATS_WINDOW", time.Hour),
	}

	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	if cfg.WriteWorkers <= 0 {
		cfg.WriteWorkers = 4
	}
	if cfg.WriteQueue <= 0 {
		cfg.WriteQueue = 64
	}
	if cfg.CacheLimit <= 0 {
		cfg.CacheLimit = 10
	}
	if cfg.CacheWindow <= 0 {
		cfg.CacheWindow = 3
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.LibraryDir == "" {
		return fmt.Errorf("LIBRARY_DIR is required")
	}
	info, err := os.Stat(c.LibraryDir)
	if err != nil {
		return fmt.Errorf("LIBRARY_DIR: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("LIBRARY_DIR %s is not a directory", c.LibraryDir)
	}
	if c.PersistState && c.StateDir == "" {
		return fmt.Errorf("STATE_DIR is required when PERSIST_STATE is set")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("RATE_BURST must be positive when RATE_LIMIT is set")
	}
	return nil
}

// defaultStateDir follows XDG_STATE_HOME.
func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "readerd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".readerd"
	}
	return filepath.Join(home, ".local", "state", "readerd")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
