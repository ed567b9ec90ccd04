package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Timezone string `yaml:"timezone" env:"SLOTD_TIMEZONE"`

	Database struct {
		Path string `yaml:"path" env:"SLOTD_DB_PATH"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled" env:"SLOTD_BACKUP_ENABLED"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path" env:"SLOTD_BACKUP_PATH"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address" env:"REDIS_ADDRESS"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
		LocalSize  int `yaml:"local_size" env:"CACHE_LOCAL_SIZE"`
	} `yaml:"cache"`

	AMQP struct {
		URL        string `yaml:"url" env:"RABBITMQ_URL"`
		Exchange   string `yaml:"exchange" env:"RABBITMQ_EXCHANGE"`
		Queue      string `yaml:"queue" env:"RABBITMQ_QUEUE"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"amqp"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port" env:"HEALTH_CHECK_PORT"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port" env:"PROMETHEUS_PORT"`
		GRPCHealthPort    int  `yaml:"grpc_health_port" env:"GRPC_HEALTH_PORT"`
	} `yaml:"monitoring"`

	Schedule struct {
		RulesPath           string `yaml:"rules_path" env:"SLOTD_RULES_PATH"`
		SlotDurationMinutes int    `yaml:"slot_duration_minutes"`
		WatchIntervalSec    int    `yaml:"watch_interval_seconds"`
		RangeWorkers        int    `yaml:"range_workers"`
	} `yaml:"schedule"`

	Warmup struct {
		Enabled         bool    `yaml:"enabled"`
		Days            int     `yaml:"days"`
		IntervalMinutes int     `yaml:"interval_minutes"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
	} `yaml:"warmup"`

	Report struct {
		Enabled   bool   `yaml:"enabled"`
		Cron      string `yaml:"cron" env:"REPORT_CRON"`
		Days      int    `yaml:"days"`
		OutputDir string `yaml:"output_dir"`
	} `yaml:"report"`

	Telegram struct {
		BotToken string  `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
		Managers []int64 `yaml:"managers"`
	} `yaml:"telegram"`

	Sheets struct {
		CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_CREDENTIALS_FILE"`
		SpreadsheetID   string `yaml:"spreadsheet_id" env:"GOOGLE_SPREADSHEET_ID"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"sheets"`
}

// Load reads the YAML config at path. ${VAR} placeholders are expanded, and
// variables from an optional .env next to the working directory are visible to
// both the expansion and the env overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err = env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	cfg.applyDefaults()

	if _, err = cfg.Location(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/clinicslots.db"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.Cache.LocalSize <= 0 {
		c.Cache.LocalSize = 1000
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "clinic"
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "clinicslots.bookings"
	}
	if c.AMQP.RoutingKey == "" {
		c.AMQP.RoutingKey = "*.*.booking.*"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Schedule.RulesPath == "" {
		c.Schedule.RulesPath = "configs/rules.yaml"
	}
	if c.Schedule.SlotDurationMinutes <= 0 {
		c.Schedule.SlotDurationMinutes = 30
	}
	if c.Schedule.WatchIntervalSec <= 0 {
		c.Schedule.WatchIntervalSec = 30
	}
	if c.Schedule.RangeWorkers <= 0 {
		c.Schedule.RangeWorkers = 4
	}
	if c.Warmup.Days <= 0 {
		c.Warmup.Days = 14
	}
	if c.Warmup.IntervalMinutes <= 0 {
		c.Warmup.IntervalMinutes = 10
	}
	if c.Warmup.RatePerSecond <= 0 {
		c.Warmup.RatePerSecond = 20
	}
	if c.Report.Cron == "" {
		c.Report.Cron = "0 20 * * *"
	}
	if c.Report.Days <= 0 {
		c.Report.Days = 7
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "reports"
	}
	if c.Sheets.SheetName == "" {
		c.Sheets.SheetName = "Utilization"
	}
}

// Location resolves the configured clinic timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Schedule.WatchIntervalSec) * time.Second
}

func (c *Config) WarmupInterval() time.Duration {
	return time.Duration(c.Warmup.IntervalMinutes) * time.Minute
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
