// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPort = 33480

type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Log      LogConfig      `yaml:"log"`
	Terminal TerminalConfig `yaml:"terminal"`
	Print    PrintConfig    `yaml:"print"`
	Orders   OrdersConfig   `yaml:"orders"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type ServiceConfig struct {
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	DataDir        string        `yaml:"data_dir"`
	AuditMaxSizeMB int64         `yaml:"audit_max_size_mb" validate:"min=1"`
	HTTPTimeout    time.Duration `yaml:"http_timeout" validate:"min=0"`
	Simulation     bool          `yaml:"simulation"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// TerminalConfig selects the provider. Config is the provider block handed to
// the adapter constructor as JSON.
type TerminalConfig struct {
	Provider string         `yaml:"provider" validate:"omitempty,oneof=SmartPay Tyro Verifone Windcave"`
	Config   map[string]any `yaml:"config"`
}

type PrintConfig struct {
	BridgeURL      string        `yaml:"bridge_url" validate:"required,url"`
	RetryInterval  time.Duration `yaml:"retry_interval" validate:"gt=0"`
	AlertThreshold int           `yaml:"alert_threshold" validate:"min=0"`
}

type OrdersConfig struct {
	Endpoint     string        `yaml:"endpoint" validate:"omitempty,url"`
	APIKey       string        `yaml:"api_key"`
	RestaurantID string        `yaml:"restaurant_id" validate:"required_with=Endpoint"`
	Interval     time.Duration `yaml:"interval" validate:"gt=0"`
}

type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers" validate:"required_if=Enabled true"`
	AlertTopic string   `yaml:"alert_topic"`
	ErrorTopic string   `yaml:"error_topic"`
	Site       string   `yaml:"site"`
}

// Load reads .env (if present), the environment, then POS_CONFIG_FILE on top,
// and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := fromEnv()
	if path := os.Getenv("POS_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	cfg := &Config{
		Service: ServiceConfig{
			Port:           getEnvInt("POS_SERVICE_PORT", DefaultPort),
			DataDir:        getEnv("POS_DATA_DIR", ""),
			AuditMaxSizeMB: int64(getEnvInt("POS_AUDIT_MAX_SIZE_MB", 100)),
			HTTPTimeout:    getEnvDuration("POS_HTTP_TIMEOUT", 30*time.Second),
			Simulation:     getEnv("MODE", "") == "simulation",
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Terminal: TerminalConfig{
			Provider: getEnv("POS_TERMINAL_PROVIDER", ""),
		},
		Print: PrintConfig{
			BridgeURL:      getEnv("POS_PRINT_BRIDGE_URL", "http://127.0.0.1:33481"),
			RetryInterval:  getEnvDuration("POS_PRINT_RETRY_INTERVAL", 20*time.Second),
			AlertThreshold: getEnvInt("POS_PRINT_ALERT_THRESHOLD", 3),
		},
		Orders: OrdersConfig{
			Endpoint:     getEnv("POS_ORDERS_ENDPOINT", ""),
			APIKey:       getEnv("POS_ORDERS_API_KEY", ""),
			RestaurantID: getEnv("POS_RESTAURANT_ID", ""),
			Interval:     getEnvDuration("POS_ORDERS_INTERVAL", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:    getEnvBool("KAFKA_ENABLED", false),
			AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "pos.alerts"),
			ErrorTopic: getEnv("KAFKA_ERROR_TOPIC", "pos.errors"),
			Site:       getEnv("POS_SITE", ""),
		},
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	if raw := getEnv("POS_TERMINAL_CONFIG", ""); raw != "" {
		var block map[string]any
		if err := json.Unmarshal([]byte(raw), &block); err == nil {
			cfg.Terminal.Config = block
		}
	}
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TerminalRaw returns the provider block as JSON for the adapter constructor.
func (c *Config) TerminalRaw() (json.RawMessage, error) {
	if len(c.Terminal.Config) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(c.Terminal.Config)
	if err != nil {
		return nil, fmt.Errorf("terminal config is not JSON-compatible: %w", err)
	}
	return raw, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
