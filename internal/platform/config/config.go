package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. A missing file is reported as an error that callers
// may ignore; the process then falls back to the system environment and the
// defaults passed to the GetEnv helpers.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool parses values accepted by strconv.ParseBool ("1", "true", "F", ...).
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value (e.g. "15s", "2m") of the
// environment variable named by key, or fallback if it is unset, invalid or
// not positive.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// GetEnvList splits the comma-separated value of key, dropping blank items.
// fallback is returned when nothing remains.
func GetEnvList(key string, fallback []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Settings is the resolved process configuration.
type Settings struct {
	Port               string
	LogLevel           string
	LogFormat          string
	CatalogPath        string
	FetchTimeout       time.Duration
	FetchMaxTries      int
	LicenseTimeout     time.Duration
	LicenseMaxTries    int
	NegotiationTimeout time.Duration
	PrefetchOnStart    bool
	ShutdownTimeout    time.Duration
	HostKeySystems     []string
	LicenseRateLimit   int
	TracingEnabled     bool
	TracingEndpoint    string
}

// FromEnv resolves Settings from the environment.
func FromEnv() Settings {
	return Settings{
		Port:               GetEnv("PORT", "8080"),
		LogLevel:           GetEnv("LOG_LEVEL", "info"),
		LogFormat:          GetEnv("LOG_FORMAT", "json"),
		CatalogPath:        GetEnv("CATALOG_PATH", ""),
		FetchTimeout:       GetEnvDuration("FETCH_TIMEOUT", 2*time.Minute),
		FetchMaxTries:      GetEnvInt("FETCH_MAX_TRIES", 3),
		LicenseTimeout:     GetEnvDuration("LICENSE_TIMEOUT", 15*time.Second),
		LicenseMaxTries:    GetEnvInt("LICENSE_MAX_TRIES", 2),
		NegotiationTimeout: GetEnvDuration("NEGOTIATION_TIMEOUT", 10*time.Second),
		PrefetchOnStart:    GetEnvBool("PREFETCH_ON_START", false),
		ShutdownTimeout:    GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HostKeySystems:     GetEnvList("HOST_KEY_SYSTEMS", []string{"com.widevine.alpha"}),
		LicenseRateLimit:   GetEnvInt("LICENSE_RATE_LIMIT", 120),
		TracingEnabled:     GetEnvBool("TRACING_ENABLED", false),
		TracingEndpoint:    GetEnv("TRACING_ENDPOINT", "localhost:4318"),
	}
}
