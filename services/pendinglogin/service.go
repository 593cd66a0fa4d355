package pendinglogin

import (
	"errors"
	"fmt"
	"time"

	"github.com/lanternhq/lantern/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound covers "never existed", "expired" and "already retrieved"
// alike; a poller cannot tell them apart.
var ErrNotFound = errors.New("pending login request not found")

type PollResult struct {
	Status       string
	SessionToken string
}

type Service struct {
	db     *gorm.DB
	logger *logging.Service
}

func NewService(db *gorm.DB, logger *logging.Service) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

func (s *Service) Create(requestID, userID string, ttl time.Duration) error {
	record := PendingLoginRequest{
		ID:        requestID,
		UserID:    userID,
		Status:    StatusPending,
		ExpiresAt: time.Now().Add(ttl),
	}

	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to create pending login request: %w", err)
	}

	s.logger.Debug("pending login request created",
		zap.String("request_id", requestID),
		zap.Time("expires_at", record.ExpiresAt))
	return nil
}

// Complete attaches the session token to a still-pending record. Missing
// or already-completed records are a silent no-op so a double-clicked
// verification link never errors. The status guard in the WHERE clause
// makes the transition atomic: a concurrent Poll observes either the old
// pending state or the fully-written completed one.
func (s *Service) Complete(requestID, sessionToken string) error {
	result := s.db.Model(&PendingLoginRequest{}).
		Where("id = ? AND status = ?", requestID, StatusPending).
		Updates(map[string]any{
			"session_token": sessionToken,
			"status":        StatusCompleted,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete pending login request: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		s.logger.Debug("pending login completion was a no-op", zap.String("request_id", requestID))
		return nil
	}

	s.logger.Info("pending login request completed", zap.String("request_id", requestID))
	return nil
}

// Poll reports the state of a pending login. A completed record yields
// its session token exactly once: the row is deleted on retrieval, and
// any later poll fails with ErrNotFound. Expiry is enforced lazily at
// poll time; the expired row is deleted on the failing attempt.
func (s *Service) Poll(requestID string) (*PollResult, error) {
	var record PendingLoginRequest
	if err := s.db.First(&record, "id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to poll pending login request: %w", err)
	}

	if time.Now().After(record.ExpiresAt) {
		if err := s.delete(requestID); err != nil {
			return nil, err
		}
		s.logger.Debug("expired pending login request removed on poll",
			zap.String("request_id", requestID))
		return nil, ErrNotFound
	}

	if record.Status != StatusCompleted {
		return &PollResult{Status: StatusPending}, nil
	}

	if record.SessionToken == nil {
		return nil, ErrNotFound
	}

	// hand the secret off once, then forget it
	if err := s.delete(requestID); err != nil {
		return nil, err
	}

	s.logger.Info("pending login request retrieved", zap.String("request_id", requestID))
	return &PollResult{
		Status:       StatusCompleted,
		SessionToken: *record.SessionToken,
	}, nil
}

func (s *Service) delete(requestID string) error {
	if err := s.db.Delete(&PendingLoginRequest{}, "id = ?", requestID).Error; err != nil {
		return fmt.Errorf("failed to delete pending login request: %w", err)
	}
	return nil
}

// CleanupExpired is storage hygiene only; correctness never depends on it
// because expiry is checked at poll time.
func (s *Service) CleanupExpired() error {
	result := s.db.Where("expires_at < ?", time.Now()).Delete(&PendingLoginRequest{})
	if result.Error != nil {
		return fmt.Errorf("failed to cleanup expired pending login requests: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("expired pending login requests cleaned up",
			zap.Int64("requests_removed", result.RowsAffected))
	}
	return nil
}
