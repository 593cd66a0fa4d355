package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig      `envPrefix:"APP_"`
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Token    TokenConfig    `envPrefix:"TOKEN_"`
	Session  SessionConfig  `envPrefix:"SESSION_"`
	Mail     MailConfig     `envPrefix:"MAIL_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"Lantern"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"localhost"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"lantern.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

// TokenConfig covers the purpose-scoped link tokens (login, add-email,
// merge-confirm). All three flows share one signing secret; expiries are
// configurable per purpose.
type TokenConfig struct {
	SecretKey      string        `env:"SECRET_KEY"`
	Issuer         string        `env:"ISSUER" envDefault:"lantern"`
	LoginExpiry    time.Duration `env:"LOGIN_EXPIRY" envDefault:"24h"`
	AddEmailExpiry time.Duration `env:"ADD_EMAIL_EXPIRY" envDefault:"24h"`
	MergeExpiry    time.Duration `env:"MERGE_EXPIRY" envDefault:"24h"`
}

type SessionConfig struct {
	Expiry time.Duration `env:"EXPIRY" envDefault:"8760h"`
}

type MailConfig struct {
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         int    `env:"PORT" envDefault:"587"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`
	Encryption   string `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress  string `env:"FROM_ADDRESS"`
	FromName     string `env:"FROM_NAME"`
	TemplatesDir string `env:"TEMPLATES_DIR"`
}

func LoadConfig(cfg *Config) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	return Validate(cfg)
}

func Validate(cfg *Config) error {
	return ValidateTokenConfig(cfg.Token)
}

func ValidateTokenConfig(cfg TokenConfig) error {
	if cfg.SecretKey == "" {
		return fmt.Errorf("TOKEN_SECRET_KEY is required")
	}
	if len(cfg.SecretKey) < 32 {
		return fmt.Errorf("TOKEN_SECRET_KEY must be at least 32 characters, got %d", len(cfg.SecretKey))
	}
	return nil
}
