package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the engine needs to run. Values come from
// environment variables with sane defaults; an optional YAML file overrides
// game tuning.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Gateway  GatewayConfig
	AIGen    AIGenConfig
	Game     GameConfig
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds leaderboard cache settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NATSConfig holds message bus settings.
type NATSConfig struct {
	URL string
}

// GatewayConfig holds the HTTP/websocket surface settings.
type GatewayConfig struct {
	Addr           string
	AllowedOrigins []string
}

// AIGenConfig holds question-generation service settings.
type AIGenConfig struct {
	BaseURL string
	APIKey  string
}

// GameConfig holds engine tuning, overridable from YAML.
type GameConfig struct {
	CommandQueueDepth int   `yaml:"command_queue_depth"`
	ProcessorSeed     int64 `yaml:"processor_seed"`
}

// FromEnv assembles the configuration from environment variables.
func FromEnv() Config {
	return Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "studydeck"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "gamecore"),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Gateway: GatewayConfig{
			Addr:           getEnv("GATEWAY_ADDR", ":8080"),
			AllowedOrigins: []string{getEnv("GATEWAY_ALLOWED_ORIGIN", "*")},
		},
		AIGen: AIGenConfig{
			BaseURL: getEnv("AIGEN_BASE_URL", "http://localhost:9090"),
			APIKey:  getEnv("AIGEN_API_KEY", ""),
		},
		Game: GameConfig{
			CommandQueueDepth: getEnvAsInt("GAME_COMMAND_QUEUE_DEPTH", 256),
			// Without an explicit seed, daily double placement varies
			// per process start.
			ProcessorSeed: getEnvAsInt64("GAME_PROCESSOR_SEED", time.Now().UnixNano()),
		},
	}
}

// LoadGameConfig overlays game tuning from a YAML file when one exists.
func (c *Config) LoadGameConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &c.Game); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
