package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lanternhq/lantern/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already associated with another account")
	ErrEmailNotFound = errors.New("email not found")
	ErrLastEmail     = errors.New("cannot remove the last email; delete or anonymize the account instead")
	ErrNoSelection   = errors.New("at least one email must be selected for login")
	ErrNicknameTaken = errors.New("nickname already taken")
	ErrInvalidEmail  = errors.New("invalid email address")
)

type Store struct {
	db       *gorm.DB
	logger   *logging.Service
	validate *validator.Validate
}

func NewStore(db *gorm.DB, logger *logging.Service) *Store {
	return &Store{
		db:       db,
		logger:   logger,
		validate: validator.New(),
	}
}

// NewID returns a time-orderable identifier. Guest ids are handed to
// clients before any row exists; the row is materialized lazily on the
// first claim.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Store) FindByID(id string) (*User, error) {
	var user User
	if err := s.db.Preload("Emails").First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return &user, nil
}

// FindByEmail resolves the owner of an email. Unknown emails return
// (nil, nil): the caller decides whether "no owner" is an error, and the
// enumeration-sensitive flows treat it as a silent no-op.
func (s *Store) FindByEmail(email string) (*User, error) {
	var row UserEmail
	if err := s.db.First(&row, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	return s.FindByID(row.UserID)
}

func (s *Store) FindByNickname(nickname string) (*User, error) {
	var user User
	if err := s.db.Preload("Emails").First(&user, "nickname = ?", nickname).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return &user, nil
}

// FindOrCreateGuest materializes the guest row for a client-held handle.
func (s *Store) FindOrCreateGuest(id string) (*User, error) {
	user := User{
		ID:       id,
		Nickname: GuestNickname,
	}
	if err := s.db.Where("id = ?", id).Attrs(User{Nickname: GuestNickname}).FirstOrCreate(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to materialize guest: %w", err)
	}

	s.logger.Debug("guest identity resolved", zap.String("user_id", id))
	return &user, nil
}

// ClaimEmail associates an email with a user. Uniqueness is enforced by
// the unique index on user_emails.email, not by check-then-insert, so two
// concurrent claims for the same address resolve to exactly one success.
// Claiming an email the user already owns returns the existing row.
func (s *Store) ClaimEmail(userID, email string) (*UserEmail, error) {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}

	var claimed *UserEmail
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&UserEmail{}).Where("user_id = ?", userID).Count(&existing).Error; err != nil {
			return err
		}

		row := UserEmail{
			ID:     NewID(),
			Email:  email,
			UserID: userID,
			// the first email is always selected for login
			SelectedForLogin: existing == 0,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		claimed = &row
		return nil
	})

	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var owned UserEmail
			if lookupErr := s.db.First(&owned, "email = ?", email).Error; lookupErr == nil && owned.UserID == userID {
				return &owned, nil
			}
			s.logger.Warn("email claim rejected: already owned elsewhere", zap.String("user_id", userID))
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to claim email: %w", err)
	}

	s.logger.Info("email claimed",
		zap.String("user_id", userID),
		zap.Bool("selected_for_login", claimed.SelectedForLogin))
	return claimed, nil
}

// ReassignEmails rewrites ownership of every email row in bulk, the data
// transfer step of guest absorption and account merges.
func (s *Store) ReassignEmails(fromUserID, toUserID string) error {
	result := s.db.Model(&UserEmail{}).Where("user_id = ?", fromUserID).Update("user_id", toUserID)
	if result.Error != nil {
		return fmt.Errorf("failed to reassign emails: %w", result.Error)
	}

	s.logger.Info("emails reassigned",
		zap.String("from_user_id", fromUserID),
		zap.String("to_user_id", toUserID),
		zap.Int64("emails_moved", result.RowsAffected))
	return nil
}

// DeleteUser removes the user and any dependent email rows in one
// transaction.
func (s *Store) DeleteUser(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&UserEmail{}, "user_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete user emails: %w", err)
		}

		result := tx.Delete(&User{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}

		s.logger.Info("user deleted", zap.String("user_id", id))
		return nil
	})
}

func (s *Store) SetLastLogin(userID string, at time.Time) error {
	if err := s.db.Model(&User{}).Where("id = ?", userID).Update("last_login", at).Error; err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

type ProfileUpdate struct {
	Nickname *string
	FullName *string
}

// UpdateProfile applies a partial profile edit. Non-guest nicknames are
// unique; "guest" itself is never treated as a collision.
func (s *Store) UpdateProfile(userID string, updates ProfileUpdate) (*User, error) {
	user, err := s.FindByID(userID)
	if err != nil {
		return nil, err
	}

	if updates.Nickname != nil {
		nickname := *updates.Nickname
		if nickname != GuestNickname {
			existing, err := s.FindByNickname(nickname)
			if err != nil && !errors.Is(err, ErrUserNotFound) {
				return nil, err
			}
			if existing != nil && existing.ID != userID {
				return nil, ErrNicknameTaken
			}
		}
		user.Nickname = nickname
	}

	if updates.FullName != nil {
		user.FullName = updates.FullName
	}

	user.UpdatedBy = &userID

	if err := s.db.Save(user).Error; err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.FindByID(userID)
}

// RemoveEmail deletes one of the user's emails. The last remaining email
// can never be removed, and if the removed address was the only one
// selected for login a replacement is selected so login never becomes
// unreachable.
func (s *Store) RemoveEmail(userID, emailID string) (*User, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var emails []UserEmail
		if err := tx.Where("user_id = ?", userID).Find(&emails).Error; err != nil {
			return err
		}
		if len(emails) <= 1 {
			return ErrLastEmail
		}

		var toRemove *UserEmail
		for i := range emails {
			if emails[i].ID == emailID {
				toRemove = &emails[i]
				break
			}
		}
		if toRemove == nil {
			return ErrEmailNotFound
		}

		if err := tx.Delete(&UserEmail{}, "id = ?", toRemove.ID).Error; err != nil {
			return err
		}

		if toRemove.SelectedForLogin {
			var selected int64
			if err := tx.Model(&UserEmail{}).
				Where("user_id = ? AND selected_for_login = ?", userID, true).
				Count(&selected).Error; err != nil {
				return err
			}
			if selected == 0 {
				var replacement UserEmail
				if err := tx.Where("user_id = ?", userID).Order("created_at").First(&replacement).Error; err != nil {
					return err
				}
				if err := tx.Model(&UserEmail{}).Where("id = ?", replacement.ID).
					Update("selected_for_login", true).Error; err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("email removed", zap.String("user_id", userID))
	return s.FindByID(userID)
}

// UpdateEmailSelection replaces the set of emails that receive login
// links. Only emails owned by the user are affected.
func (s *Store) UpdateEmailSelection(userID string, emailIDs []string) ([]UserEmail, error) {
	if len(emailIDs) == 0 {
		return nil, ErrNoSelection
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&UserEmail{}).Where("user_id = ?", userID).
			Update("selected_for_login", false).Error; err != nil {
			return err
		}
		result := tx.Model(&UserEmail{}).
			Where("user_id = ? AND id IN ?", userID, emailIDs).
			Update("selected_for_login", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrEmailNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var emails []UserEmail
	if err := s.db.Where("user_id = ?", userID).Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to load emails: %w", err)
	}
	return emails, nil
}

func (s *Store) SelectedEmails(userID string) ([]UserEmail, error) {
	var emails []UserEmail
	if err := s.db.Where("user_id = ? AND selected_for_login = ?", userID, true).Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to load selected emails: %w", err)
	}
	return emails, nil
}

// AnonymizeUser drops every email and resets the record to guest state,
// keeping the row (and whatever state hangs off it) addressable by id.
func (s *Store) AnonymizeUser(userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if err := tx.Delete(&UserEmail{}, "user_id = ?", userID).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"nickname":   GuestNickname,
			"full_name":  nil,
			"updated_by": nil,
		}
		if err := tx.Model(&User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return err
		}

		s.logger.Info("user anonymized", zap.String("user_id", userID))
		return nil
	})
}
