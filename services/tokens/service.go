package tokens

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
	ErrInvalidToken   = errors.New("invalid link token")
	ErrExpiredToken   = errors.New("link token has expired")
	ErrMalformedToken = errors.New("malformed link token")
	ErrInvalidPurpose = errors.New("link token purpose does not match this operation")
)

// Purpose scopes a signed link token to exactly one operation. A token is
// never valid outside the flow it was issued for.
type Purpose string

const (
	PurposeLogin        Purpose = "login"
	PurposeAddEmail     Purpose = "add-email"
	PurposeMergeConfirm Purpose = "merge-confirm"
)

type claims struct {
	Purpose   Purpose `json:"purpose"`
	Email     string  `json:"email,omitempty"`
	GuestID   string  `json:"guest_id,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
	MergeInto string  `json:"merge_into,omitempty"`
	jwt.RegisteredClaims
}

// Payload is the closed set of decoded token shapes. Callers type-switch
// on the concrete payload instead of reading loosely-typed claim fields,
// so a missing purpose check cannot slip through.
type Payload interface {
	Subject() string
	purpose() Purpose
}

// LoginPayload is carried by magic-link login tokens. GuestID is set only
// when the requesting browsing context held a guest identity different
// from the resolved subject; RequestID correlates a pending login record.
type LoginPayload struct {
	UserID    string
	Email     string
	GuestID   string
	RequestID string
}

func (p LoginPayload) Subject() string  { return p.UserID }
func (p LoginPayload) purpose() Purpose { return PurposeLogin }

type AddEmailPayload struct {
	UserID string
	Email  string
}

func (p AddEmailPayload) Subject() string  { return p.UserID }
func (p AddEmailPayload) purpose() Purpose { return PurposeAddEmail }

// MergeConfirmPayload's subject is the account that will be merged away;
// TargetUserID is the account receiving its emails.
type MergeConfirmPayload struct {
	SourceUserID string
	SourceEmail  string
	TargetUserID string
}

func (p MergeConfirmPayload) Subject() string  { return p.SourceUserID }
func (p MergeConfirmPayload) purpose() Purpose { return PurposeMergeConfirm }

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

func (s *Service) IssueLogin(p LoginPayload, ttl time.Duration) (string, error) {
	return s.sign(claims{
		Purpose:   PurposeLogin,
		Email:     p.Email,
		GuestID:   p.GuestID,
		RequestID: p.RequestID,
	}, p.UserID, ttl)
}

func (s *Service) IssueAddEmail(p AddEmailPayload, ttl time.Duration) (string, error) {
	return s.sign(claims{
		Purpose: PurposeAddEmail,
		Email:   p.Email,
	}, p.UserID, ttl)
}

func (s *Service) IssueMergeConfirm(p MergeConfirmPayload, ttl time.Duration) (string, error) {
	return s.sign(claims{
		Purpose:   PurposeMergeConfirm,
		Email:     p.SourceEmail,
		MergeInto: p.TargetUserID,
	}, p.SourceUserID, ttl)
}

func (s *Service) sign(c claims, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.config.Token.Issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	tokenString, err := token.SignedString([]byte(s.config.Token.SecretKey))
	if err != nil {
		s.logger.Error("failed to sign link token",
			zap.Error(err),
			zap.String("purpose", string(c.Purpose)))
		return "", fmt.Errorf("failed to sign link token: %w", err)
	}

	return tokenString, nil
}

// Verify checks signature and expiry and decodes the token into one of
// the closed payload types.
func (s *Service) Verify(tokenString string) (Payload, error) {
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
		s.logger.Warn("link token validation failed", zap.Error(err))

		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		default:
			return nil, ErrInvalidToken
		}
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	switch c.Purpose {
	case PurposeLogin:
		return LoginPayload{
			UserID:    c.Subject,
			Email:     c.Email,
			GuestID:   c.GuestID,
			RequestID: c.RequestID,
		}, nil
	case PurposeAddEmail:
		return AddEmailPayload{
			UserID: c.Subject,
			Email:  c.Email,
		}, nil
	case PurposeMergeConfirm:
		return MergeConfirmPayload{
			SourceUserID: c.Subject,
			SourceEmail:  c.Email,
			TargetUserID: c.MergeInto,
		}, nil
	default:
		s.logger.Warn("link token carries unknown purpose", zap.String("purpose", string(c.Purpose)))
		return nil, ErrInvalidToken
	}
}

// VerifyLogin accepts only purpose "login"; a validly-signed token for any
// other purpose fails with ErrInvalidPurpose.
func (s *Service) VerifyLogin(tokenString string) (LoginPayload, error) {
	payload, err := s.Verify(tokenString)
	if err != nil {
		return LoginPayload{}, err
	}
	p, ok := payload.(LoginPayload)
	if !ok {
		return LoginPayload{}, ErrInvalidPurpose
	}
	return p, nil
}

func (s *Service) VerifyAddEmail(tokenString string) (AddEmailPayload, error) {
	payload, err := s.Verify(tokenString)
	if err != nil {
		return AddEmailPayload{}, err
	}
	p, ok := payload.(AddEmailPayload)
	if !ok {
		return AddEmailPayload{}, ErrInvalidPurpose
	}
	return p, nil
}

func (s *Service) VerifyMergeConfirm(tokenString string) (MergeConfirmPayload, error) {
	payload, err := s.Verify(tokenString)
	if err != nil {
		return MergeConfirmPayload{}, err
	}
	p, ok := payload.(MergeConfirmPayload)
	if !ok {
		return MergeConfirmPayload{}, ErrInvalidPurpose
	}
	return p, nil
}
