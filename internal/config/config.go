package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"port"`
	AllowedOrigin string `mapstructure:"allowed_origin"`
	DatabaseURL   string `mapstructure:"database_url"`
	RunMigrations bool   `mapstructure:"run_migrations"`

	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds"`

	AuthSecret            string `mapstructure:"auth_secret"`
	AccessTokenTTLMinutes int    `mapstructure:"access_token_ttl_minutes"`
	SeedAdminPassword     string `mapstructure:"seed_admin_password"`

	LogLevel       string `mapstructure:"log_level"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`

	UnlinkConfirmationPhrase string `mapstructure:"unlink_confirmation_phrase"`
	SearchableSelect         bool   `mapstructure:"feature_searchable_select"`
	ShowTotals               bool   `mapstructure:"feature_show_totals"`
}

var defaults = map[string]any{
	"port":                       "8080",
	"allowed_origin":             "http://127.0.0.1:3000",
	"database_url":               "",
	"run_migrations":             true,
	"redis_addr":                 "",
	"redis_password":             "",
	"redis_db":                   0,
	"lock_ttl_seconds":           15,
	"auth_secret":                "",
	"access_token_ttl_minutes":   480,
	"seed_admin_password":        "",
	"log_level":                  "info",
	"metrics_enabled":            true,
	"unlink_confirmation_phrase": "unlink",
	"feature_searchable_select":  true,
	"feature_show_totals":        true,
}

// Load reads an optional .env file, then an optional config file named by
// CONFIG_FILE, then the process environment. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range defaults {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}

	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.UnlinkConfirmationPhrase = strings.TrimSpace(cfg.UnlinkConfirmationPhrase)
	if cfg.UnlinkConfirmationPhrase == "" {
		cfg.UnlinkConfirmationPhrase = "unlink"
	}
	if cfg.LockTTLSeconds < 1 {
		cfg.LockTTLSeconds = 15
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
