package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	Telegram      TelegramConfig     `yaml:"telegram"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Booking       BookingConfig      `yaml:"booking"`
	Notifications NotificationConfig `yaml:"notifications"`
	Catalog       CatalogConfig      `yaml:"catalog"`
	Google        GoogleConfig       `yaml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

type ServerConfig struct {
	Address             string `yaml:"address"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Path   string       `yaml:"path"`
	Backup BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type MonitoringConfig struct {
	HealthCheckPort   int  `yaml:"health_check_port"`
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type BookingConfig struct {
	SlotIntervalMinutes  int    `yaml:"slot_interval_minutes"`
	BufferMinutes        int    `yaml:"buffer_minutes"`
	LockTTLSeconds       int    `yaml:"lock_ttl_seconds"`
	CallTimeoutSeconds   int    `yaml:"call_timeout_seconds"`
	CacheTTLSeconds      int    `yaml:"cache_ttl_seconds"`
	SettleDelayMillis    int    `yaml:"settle_delay_millis"`
	ReadRetries          int    `yaml:"read_retries"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	Timezone             string `yaml:"timezone"`
}

type NotificationConfig struct {
	RatePerSecond      float64 `yaml:"rate_per_second"`
	Burst              int     `yaml:"burst"`
	Workers            int     `yaml:"workers"`
	QueueSize          int     `yaml:"queue_size"`
	RetryDelaysSeconds []int   `yaml:"retry_delays_seconds"`
}

// GoogleConfig enables pushing merchant reports to a Google Sheets spreadsheet.
type GoogleConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

type CatalogConfig struct {
	Path          string `yaml:"path"`
	ReloadSeconds int    `yaml:"reload_seconds"`
}

// Load reads the YAML config, expanding ${ENV_VAR} placeholders.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "salonbook"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/salonbook.db"
	}
	if c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "data/backups"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "salonbook.booking-events"
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "Asia/Kolkata"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = "configs/catalog.yaml"
	}
}

// Validate collects every configuration problem into one error.
func (c *Config) Validate() error {
	var problems []string
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is required when kafka is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		problems = append(problems, "telegram.bot_token is required when telegram is enabled")
	}
	if c.Google.Enabled && (c.Google.CredentialsFile == "" || c.Google.SpreadsheetID == "") {
		problems = append(problems, "google.credentials_file and google.spreadsheet_id are required when google is enabled")
	}
	if c.Booking.SlotIntervalMinutes < 0 || (c.Booking.SlotIntervalMinutes > 0 && 60%c.Booking.SlotIntervalMinutes != 0) {
		problems = append(problems, "booking.slot_interval_minutes must divide 60")
	}
	if c.Booking.BufferMinutes < 0 {
		problems = append(problems, "booking.buffer_minutes cannot be negative")
	}
	if c.Notifications.RatePerSecond < 0 {
		problems = append(problems, "notifications.rate_per_second cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) SlotInterval() int {
	if c.Booking.SlotIntervalMinutes <= 0 {
		return 10
	}
	return c.Booking.SlotIntervalMinutes
}

func (c *Config) BufferMinutes() int {
	if c.Booking.BufferMinutes == 0 {
		return 40
	}
	return c.Booking.BufferMinutes
}

func (c *Config) LockTTL() time.Duration {
	if c.Booking.LockTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Booking.LockTTLSeconds) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	if c.Booking.CallTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Booking.CallTimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	if c.Booking.CacheTTLSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Booking.CacheTTLSeconds) * time.Second
}

func (c *Config) SettleDelay() time.Duration {
	if c.Booking.SettleDelayMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Booking.SettleDelayMillis) * time.Millisecond
}

func (c *Config) ReadRetries() int {
	if c.Booking.ReadRetries <= 0 {
		return 3
	}
	return c.Booking.ReadRetries
}

func (c *Config) SweepInterval() time.Duration {
	if c.Booking.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Booking.SweepIntervalSeconds) * time.Second
}

func (c *Config) CatalogReload() time.Duration {
	if c.Catalog.ReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Catalog.ReloadSeconds) * time.Second
}

func (c *Config) NotificationRetryDelays() []time.Duration {
	if len(c.Notifications.RetryDelaysSeconds) == 0 {
		return []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	}
	out := make([]time.Duration, 0, len(c.Notifications.RetryDelaysSeconds))
	for _, s := range c.Notifications.RetryDelaysSeconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}
