package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the dashboard client.
type Config struct {
	// Backend endpoints
	ServerURL  string // base URL of the detection backend, e.g. http://localhost:8000
	ListenAddr string // local status/metrics HTTP listener

	// Connection policy
	ReconnectInterval time.Duration
	MaxReconnects     int

	// Alerting thresholds. NotifyThreshold drives incident/frame
	// notifications, SeverityThreshold drives high-severity rendering.
	// Separate keys so operators can unify them via config if wanted.
	NotifyThreshold   float64
	SeverityThreshold float64

	// Notification feed
	FeedCapacity    int
	FeedRetention   time.Duration
	PersistDebounce time.Duration

	// Overlay surface
	SurfaceWidth  int
	SurfaceHeight int

	// Storage
	DBPath string

	// Ask the backend to start pushing frames as soon as the
	// connection is up.
	AutoStartStream bool

	LogLevel string
}

// Load reads configuration from .env (if present) and the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		ServerURL:         getEnv("SERVER_URL", "http://localhost:8000"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8090"),
		ReconnectInterval: getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		MaxReconnects:     getEnvInt("MAX_RECONNECTS", 10),
		NotifyThreshold:   getEnvFloat("NOTIFY_THRESHOLD", 0.7),
		SeverityThreshold: getEnvFloat("SEVERITY_THRESHOLD", 0.8),
		FeedCapacity:      getEnvInt("FEED_CAPACITY", 50),
		FeedRetention:     getEnvDuration("FEED_RETENTION", 7*24*time.Hour),
		PersistDebounce:   getEnvDuration("PERSIST_DEBOUNCE", 500*time.Millisecond),
		SurfaceWidth:      getEnvInt("SURFACE_WIDTH", 1280),
		SurfaceHeight:     getEnvInt("SURFACE_HEIGHT", 720),
		DBPath:            getEnv("DB_PATH", "./data/vigia.db"),
		AutoStartStream:   getEnvBool("AUTO_START_STREAM", true),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
	}
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Invalid value for %s: %q, using default %t", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("Invalid value for %s: %q, using default %g", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid value for %s: %q, using default %s", key, v, defaultVal)
	}
	return defaultVal
}
