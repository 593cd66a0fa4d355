package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lanternhq/lantern/config"
	"github.com/lanternhq/lantern/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidSession = errors.New("invalid session token")
	ErrExpiredSession = errors.New("session token has expired")
)

type claims struct {
	// Purpose must stay empty on session credentials; its presence means
	// the caller presented a magic-link token as a session.
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Service mints and validates long-lived bearer credentials. There is no
// server-side session table: expiry is the token's own and logout is a
// client-side discard.
type Service struct {
	config *config.Config
	logger *logging.Service
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger,
	}
}

func (s *Service) Issue(userID string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Token.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Session.Expiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	tokenString, err := token.SignedString([]byte(s.config.Token.SecretKey))
	if err != nil {
		s.logger.Error("failed to sign session token", zap.Error(err))
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}

	return tokenString, nil
}

// Validate resolves a session credential back to its subject user id.
func (s *Service) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected algorithm: expected HS256, got %s", token.Method.Alg())
		}
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid algorithm family: %v", token.Header["alg"])
		}
		return []byte(s.config.Token.SecretKey), nil
	})

	if err != nil {
		s.logger.Warn("session token validation failed", zap.Error(err))
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredSession
		}
		return "", ErrInvalidSession
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", ErrInvalidSession
	}

	// a purpose-scoped link token is never a session credential
	if c.Purpose != "" {
		s.logger.Warn("purpose-scoped token presented as session",
			zap.String("purpose", c.Purpose))
		return "", ErrInvalidSession
	}

	if c.Subject == "" {
		return "", ErrInvalidSession
	}

	return c.Subject, nil
}

// Refresh unconditionally reissues a fresh credential for the subject.
// There is no revocation list to consult.
func (s *Service) Refresh(userID string) (string, error) {
	return s.Issue(userID)
}
