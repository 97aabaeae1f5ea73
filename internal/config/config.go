// Package config loads the handoff service configuration from the environment
// and an optional YAML settings file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "secret", "YOUR_ULTRA_SECRET_KEY_HERE", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	Env         string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`
	RedisURL    string `env:"REDIS_URL" envDefault:""`

	JWTSecret      string        `env:"JWT_SECRET,required,notEmpty"`
	GuestTokenTTL  time.Duration `env:"GUEST_TOKEN_TTL" envDefault:"72h"`
	AdminTokenTTL  time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"12h"`
	FrontendOrigin string        `env:"FRONTEND_ORIGIN" envDefault:"http://localhost:3001"`

	HandoffSettingsFile      string        `env:"HANDOFF_SETTINGS_FILE" envDefault:""`
	HandoffTimeout           time.Duration `env:"HANDOFF_TIMEOUT" envDefault:"60s"`
	NotificationPollInterval time.Duration `env:"NOTIFICATION_POLL_INTERVAL" envDefault:"3s"`
	SweepInterval            time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`
	HistoryRetention         time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`
	DedupBackend             string        `env:"DEDUP_BACKEND" envDefault:"memory"`

	TelegramBotToken     string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatIDs string `env:"TELEGRAM_ADMIN_CHAT_IDS"`
	SlackBotToken        string `env:"SLACK_BOT_TOKEN"`
	SlackChannelID       string `env:"SLACK_CHANNEL_ID"`
	DiscordBotToken      string `env:"DISCORD_BOT_TOKEN"`
	DiscordChannelID     string `env:"DISCORD_CHANNEL_ID"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TelegramChatIDs parses TELEGRAM_ADMIN_CHAT_IDS as a comma-separated list.
func (c *Config) TelegramChatIDs() ([]int64, error) {
	var ids []int64
	for _, raw := range strings.Split(c.TelegramAdminChatIDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ADMIN_CHAT_IDS: invalid chat id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.DatabaseURL == "" {
			c.DatabaseURL = "file:handoff.db?_busy_timeout=5000"
		}
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	switch c.DedupBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("DEDUP_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("DEDUP_BACKEND must be memory or redis, got %q", c.DedupBackend)
	}

	if c.HandoffTimeout <= 0 {
		return fmt.Errorf("HANDOFF_TIMEOUT must be positive")
	}
	if c.NotificationPollInterval <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("NOTIFICATION_POLL_INTERVAL and SWEEP_INTERVAL must be positive")
	}
	if c.HistoryRetention <= 0 {
		return fmt.Errorf("HISTORY_RETENTION must be positive")
	}
	if _, err := c.TelegramChatIDs(); err != nil {
		return err
	}

	if c.IsProduction() {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: events will not reach other instances")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
