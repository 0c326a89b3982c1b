package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TOURBOOK_TEST_TOKEN", "test_token")

	yamlContent := `
telegram:
  bot_token: "${TOURBOOK_TEST_TOKEN}"
backend:
  base_url: "https://api.example.com/"
  timeout: 3s
database:
  path: "journal.db"
checkout:
  timezone: "Europe/Lisbon"
support:
  managers: [42]
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "test_token", cfg.Telegram.BotToken)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, []int64{42}, cfg.Support.Managers)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Lisbon", loc.String())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			Telegram: TelegramConfig{BotToken: "token"},
			Backend:  BackendConfig{BaseURL: "https://api.example.com"},
			Database: DatabaseConfig{Path: "path"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.BotToken = "" }, wantErr: true},
		{name: "placeholder token", mutate: func(c *Config) { c.Telegram.BotToken = "YOUR_BOT_TOKEN_HERE" }, wantErr: true},
		{name: "missing backend", mutate: func(c *Config) { c.Backend.BaseURL = "" }, wantErr: true},
		{name: "backend without scheme", mutate: func(c *Config) { c.Backend.BaseURL = "api.example.com" }, wantErr: true},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Checkout.Timezone = "Mars/Olympus" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{
		Monitoring: MonitoringConfig{PrometheusEnabled: true},
		Database:   DatabaseConfig{Backup: BackupConfig{Enabled: true}},
	}
	cfg.applyDefaults()

	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, float64(5), cfg.Backend.RateLimit.RPS)
	assert.Equal(t, 10, cfg.Backend.RateLimit.Burst)
	assert.Equal(t, models.DefaultActivityCacheTTL*time.Second, cfg.Backend.ActivityCacheTTL)
	assert.Equal(t, 9090, cfg.Monitoring.PrometheusPort)
	assert.Equal(t, models.RateLimitMessages, cfg.Checkout.RateLimitMessages)
	assert.Equal(t, "pm_card_visa", cfg.Stripe.PaymentMethod)
	assert.Equal(t, "exports", cfg.Exports.Path)
	assert.Equal(t, 24*time.Hour, cfg.Database.Backup.Interval)
	assert.Equal(t, "backups", cfg.Database.Backup.StoragePath)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}
