package testutils

import (
	"time"

	"github.com/lanternhq/lantern/config"
)

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "Test App",
			URL:  "http://localhost:8080",
		},
		Token: config.TokenConfig{
			SecretKey:      "test-secret-key-32-chars-long!!!",
			Issuer:         "test-issuer",
			LoginExpiry:    24 * time.Hour,
			AddEmailExpiry: 24 * time.Hour,
			MergeExpiry:    24 * time.Hour,
		},
		Session: config.SessionConfig{
			Expiry: 8760 * time.Hour,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    ":memory:",
		},
		Mail: config.MailConfig{
			Host:       "localhost",
			Port:       587,
			Encryption: "starttls",
		},
	}
}
