package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds process configuration (spec.md §6 "Process configuration").
type AppConfig struct {
	ListenAddress string

	IOPoolSize      int
	ComputePoolSize int

	RequestDeadline time.Duration

	// FrostBaseURL / GeocoderAPIKey configure the two real-world
	// DataConnectors registered at startup.
	FrostBaseURL   string
	GeocoderAPIKey string

	// StatsInterval controls how often internal/statsjob logs scheduler
	// throughput.
	StatsInterval time.Duration
}

// Load reads configuration from the environment with sensible defaults,
// mirroring the teacher's godotenv-then-os.Getenv shape.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.ListenAddress = getenvDefault("LISTEN_ADDRESS", ":8080")

	cfg.IOPoolSize = getenvInt("IO_POOL_SIZE", 2*runtime.NumCPU())
	cfg.ComputePoolSize = getenvInt("COMPUTE_POOL_SIZE", runtime.NumCPU())

	deadline, err := getenvDuration("REQUEST_DEADLINE", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_DEADLINE: %w", err)
	}
	cfg.RequestDeadline = deadline

	cfg.FrostBaseURL = getenvDefault("FROST_BASE_URL", "https://frost.met.no/observations/v0.jsonld")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")

	statsInterval, err := getenvDuration("STATS_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_INTERVAL: %w", err)
	}
	cfg.StatsInterval = statsInterval

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
