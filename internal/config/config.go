package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/contactbook-hq/contactbook-backend/internal/logger"
	"github.com/contactbook-hq/contactbook-backend/internal/utils"
)

type ServerConfig struct {
	Port    string `yaml:"port"`
	LogMode string `yaml:"log_mode"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.Name, p.SSLMode)
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	DB   int    `yaml:"db"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type AuthConfig struct {
	JWTSecretKey      string `yaml:"jwt_secret_key"`
	AccessTTLSeconds  int    `yaml:"access_ttl_seconds"`
	RefreshTTLSeconds int    `yaml:"refresh_ttl_seconds"`
}

type MailConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	// AppBaseURL is embedded in confirmation/reset links.
	AppBaseURL string `yaml:"app_base_url"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type DigestConfig struct {
	IntervalHours int `yaml:"interval_hours"`
	WindowDays    int `yaml:"window_days"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Digest    DigestConfig    `yaml:"digest"`
}

// Load builds the config in three layers: defaults, an optional yaml file
// (CONFIG_FILE), then environment variables.
func Load(log *logger.Logger) (*Config, error) {
	cfg := &Config{
		Server:    ServerConfig{Port: "8080", LogMode: "development"},
		Postgres:  PostgresConfig{Host: "localhost", Port: "5432", User: "postgres", Name: "contactbook", SSLMode: "disable"},
		Redis:     RedisConfig{Host: "localhost", Port: "6379"},
		Auth:      AuthConfig{JWTSecretKey: "defaultsecret", AccessTTLSeconds: 3600, RefreshTTLSeconds: 86400},
		Mail:      MailConfig{FromName: "Contactbook", AppBaseURL: "http://localhost:8080"},
		RateLimit: RateLimitConfig{PerMinute: 10, Burst: 10},
		Cache:     CacheConfig{TTLSeconds: 3600},
		Digest:    DigestConfig{IntervalHours: 24, WindowDays: 7},
	}

	path := utils.GetEnv("CONFIG_FILE", "", log)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		log.Info("Loaded config file", "path", path)
	}

	cfg.Server.Port = utils.GetEnv("PORT", cfg.Server.Port, log)
	cfg.Server.LogMode = utils.GetEnv("LOG_MODE", cfg.Server.LogMode, log)

	cfg.Postgres.Host = utils.GetEnv("POSTGRES_HOST", cfg.Postgres.Host, log)
	cfg.Postgres.Port = utils.GetEnv("POSTGRES_PORT", cfg.Postgres.Port, log)
	cfg.Postgres.User = utils.GetEnv("POSTGRES_USER", cfg.Postgres.User, log)
	cfg.Postgres.Password = utils.GetEnv("POSTGRES_PASSWORD", cfg.Postgres.Password, nil)
	cfg.Postgres.Name = utils.GetEnv("POSTGRES_DB", cfg.Postgres.Name, log)
	cfg.Postgres.SSLMode = utils.GetEnv("POSTGRES_SSLMODE", cfg.Postgres.SSLMode, log)

	cfg.Redis.Host = utils.GetEnv("REDIS_HOST", cfg.Redis.Host, log)
	cfg.Redis.Port = utils.GetEnv("REDIS_PORT", cfg.Redis.Port, log)
	cfg.Redis.DB = utils.GetEnvAsInt("REDIS_DB", cfg.Redis.DB, log)

	cfg.Auth.JWTSecretKey = utils.GetEnv("JWT_SECRET_KEY", cfg.Auth.JWTSecretKey, nil)
	cfg.Auth.AccessTTLSeconds = utils.GetEnvAsInt("ACCESS_TOKEN_TTL", cfg.Auth.AccessTTLSeconds, log)
	cfg.Auth.RefreshTTLSeconds = utils.GetEnvAsInt("REFRESH_TOKEN_TTL", cfg.Auth.RefreshTTLSeconds, log)

	cfg.Mail.APIKey = utils.GetEnv("SENDGRID_API_KEY", cfg.Mail.APIKey, nil)
	cfg.Mail.BaseURL = utils.GetEnv("SENDGRID_BASE_URL", cfg.Mail.BaseURL, log)
	cfg.Mail.FromEmail = utils.GetEnv("MAIL_FROM", cfg.Mail.FromEmail, log)
	cfg.Mail.FromName = utils.GetEnv("MAIL_FROM_NAME", cfg.Mail.FromName, log)
	cfg.Mail.AppBaseURL = utils.GetEnv("APP_BASE_URL", cfg.Mail.AppBaseURL, log)

	cfg.RateLimit.PerMinute = utils.GetEnvAsInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimit.PerMinute, log)
	cfg.RateLimit.Burst = utils.GetEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst, log)

	cfg.Cache.TTLSeconds = utils.GetEnvAsInt("CONTACT_CACHE_TTL", cfg.Cache.TTLSeconds, log)

	cfg.Digest.IntervalHours = utils.GetEnvAsInt("DIGEST_INTERVAL_HOURS", cfg.Digest.IntervalHours, log)
	cfg.Digest.WindowDays = utils.GetEnvAsInt("DIGEST_WINDOW_DAYS", cfg.Digest.WindowDays, log)

	return cfg, nil
}
