package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// RemoteDBConfig remote visit store connection settings
type RemoteDBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the connection string for lib/pq
func (c *RemoteDBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Config vitals station configuration
type Config struct {
	Station struct {
		// Station ID identifies this kiosk to the registry service.
		// Generated per process when not pinned via STATION_ID.
		ID   string
		Name string
	}

	LocalDB struct {
		Path string
	}

	RemoteDB RemoteDBConfig

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	MQTT struct {
		Broker   string
		ClientID string
		Username string
		Password string
		QoS      byte
	}

	Registry struct {
		Enabled bool
		BaseURL string
	}

	Replay struct {
		Interval    int // seconds between replay passes
		MaxAttempts int // attempts before a pending row is marked failed
	}

	Cleaner struct {
		Interval           int // seconds between sweeps
		IdleTimeoutMinutes int
	}

	Health struct {
		Interval int // seconds between remote pings
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Station.ID = getEnv("STATION_ID", uuid.NewString())
	cfg.Station.Name = getEnv("STATION_NAME", "vitals-station")

	cfg.LocalDB.Path = getEnv("LOCAL_DB_PATH", "data/vitals.db")

	cfg.RemoteDB.Host = getEnv("REMOTE_DB_HOST", "localhost")
	cfg.RemoteDB.Port = getEnvInt("REMOTE_DB_PORT", 5432)
	cfg.RemoteDB.User = getEnv("REMOTE_DB_USER", "postgres")
	cfg.RemoteDB.Password = getEnv("REMOTE_DB_PASSWORD", "postgres")
	cfg.RemoteDB.Database = getEnv("REMOTE_DB_NAME", "clinic")
	cfg.RemoteDB.SSLMode = getEnv("REMOTE_DB_SSLMODE", "disable")
	cfg.RemoteDB.MaxConns = getEnvInt("REMOTE_DB_MAX_CONNS", 4)
	cfg.RemoteDB.MaxIdle = getEnvInt("REMOTE_DB_MAX_IDLE", 2)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "vitals-station-"+cfg.Station.ID[:8])
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Registry.Enabled = getEnv("REGISTRY_ENABLED", "false") == "true"
	cfg.Registry.BaseURL = getEnv("REGISTRY_BASE_URL", "")

	cfg.Replay.Interval = getEnvInt("REPLAY_INTERVAL", 30)
	cfg.Replay.MaxAttempts = getEnvInt("REPLAY_MAX_ATTEMPTS", 3)

	cfg.Cleaner.Interval = getEnvInt("CLEANER_INTERVAL", 300)
	cfg.Cleaner.IdleTimeoutMinutes = getEnvInt("SESSION_IDLE_TIMEOUT", 30)

	cfg.Health.Interval = getEnvInt("HEALTH_INTERVAL", 10)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Registry.Enabled && cfg.Registry.BaseURL == "" {
		return nil, fmt.Errorf("REGISTRY_BASE_URL is required when REGISTRY_ENABLED=true")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
