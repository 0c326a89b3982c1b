package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tourbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Backend    BackendConfig    `yaml:"backend"`
	Stripe     StripeConfig     `yaml:"stripe"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Checkout   CheckoutConfig   `yaml:"checkout"`
	Support    SupportConfig    `yaml:"support"`
	Exports    ExportConfig     `yaml:"exports"`
	Google     GoogleConfig     `yaml:"google"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type BackendConfig struct {
	BaseURL   string               `yaml:"base_url"`
	AuthToken string               `yaml:"auth_token"`
	Timeout   time.Duration        `yaml:"timeout"`
	RateLimit BackendRateLimitConf `yaml:"rate_limit"`
	// ActivityCacheTTL applies to listing data only; slot quotes are never cached.
	ActivityCacheTTL time.Duration `yaml:"activity_cache_ttl"`
}

type BackendRateLimitConf struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	PaymentMethod string `yaml:"payment_method"`
}

type DatabaseConfig struct {
	Path   string       `yaml:"path"`
	Backup BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StoragePath   string        `yaml:"storage_path"`
	RetentionDays int           `yaml:"retention_days"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type CheckoutConfig struct {
	Timezone          string        `yaml:"timezone"`
	WishlistTTL       time.Duration `yaml:"wishlist_ttl"`
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   int           `yaml:"rate_limit_window"`
}

type SupportConfig struct {
	Managers []int64 `yaml:"managers"`
	ChatID   int64   `yaml:"chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	SupportSpreadsheetID  string `yaml:"support_spreadsheet_id"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional outside of local development
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("telegram bot token is required")
	}

	if c.Backend.BaseURL == "" {
		return errors.New("backend base url is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base url must be http(s): %q", c.Backend.BaseURL)
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("checkout timezone: %w", err)
	}

	return nil
}

// Location resolves the timezone used to decide what "today" is.
func (c *Config) Location() (*time.Location, error) {
	if c.Checkout.Timezone == "" || strings.EqualFold(c.Checkout.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Checkout.Timezone)
}

func (c *Config) applyDefaults() {
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Backend.RateLimit.RPS == 0 {
		c.Backend.RateLimit.RPS = 5
	}
	if c.Backend.RateLimit.Burst == 0 {
		c.Backend.RateLimit.Burst = 10
	}
	if c.Backend.ActivityCacheTTL == 0 {
		c.Backend.ActivityCacheTTL = models.DefaultActivityCacheTTL * time.Second
	}
	if c.Stripe.PaymentMethod == "" {
		c.Stripe.PaymentMethod = "pm_card_visa"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Checkout.WishlistTTL == 0 {
		c.Checkout.WishlistTTL = models.DefaultWishlistTTL * time.Second
	}
	if c.Checkout.RateLimitMessages == 0 {
		c.Checkout.RateLimitMessages = models.RateLimitMessages
	}
	if c.Checkout.RateLimitWindow == 0 {
		c.Checkout.RateLimitWindow = models.RateLimitWindow
	}
	if c.Database.Backup.Enabled {
		if c.Database.Backup.Interval == 0 {
			c.Database.Backup.Interval = 24 * time.Hour
		}
		if c.Database.Backup.StoragePath == "" {
			c.Database.Backup.StoragePath = "backups"
		}
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
