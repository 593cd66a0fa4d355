package linking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lanternhq/lantern/config"
	"github.com/lanternhq/lantern/services/logging"
	"github.com/lanternhq/lantern/services/pendinglogin"
	"github.com/lanternhq/lantern/services/tokens"
	"github.com/lanternhq/lantern/users"
	"go.uber.org/zap"
)

var (
	// ErrInvalidOrExpiredLink deliberately collapses bad-signature and
	// expired into one failure so the caller learns nothing about which
	// it was.
	ErrInvalidOrExpiredLink = errors.New("invalid or expired link")
	// ErrInvalidTokenPurpose marks a validly-signed token presented to
	// the wrong endpoint. It is an integrity error, not an expiry, and
	// is kept distinct for debugging; transports still render it to end
	// users exactly like ErrInvalidOrExpiredLink.
	ErrInvalidTokenPurpose = errors.New("link token was issued for a different operation")
	ErrNotificationFailed  = errors.New("failed to deliver notification email")
	// ErrEmailTaken is re-exported so transport code binds against this
	// package alone.
	ErrEmailTaken = users.ErrEmailTaken
)

// Mailer is the outbound notification collaborator.
type Mailer interface {
	SendLoginLink(email, url string) error
	SendEmailAdditionLink(email, url string) error
	SendMergeWarning(email, url, requesterName string) error
	SendRecoveryLinks(emails, urls []string) error
}

// Service decides what a login, claim or merge request should do: it
// resolves email ownership, drives guest claiming and absorption, and
// folds whole accounts together on confirmed merges.
type Service struct {
	config  *config.Config
	store   *users.Store
	codec   *tokens.Service
	pending *pendinglogin.Service
	mailer  Mailer
	logger  *logging.Service
}

func NewService(cfg *config.Config, store *users.Store, codec *tokens.Service, pending *pendinglogin.Service, mailer Mailer, logger *logging.Service) *Service {
	return &Service{
		config:  cfg,
		store:   store,
		codec:   codec,
		pending: pending,
		mailer:  mailer,
		logger:  logger,
	}
}

// resolveOwner is the single resolve-or-noop helper behind every
// enumeration-sensitive lookup: an unknown email is (nil, nil), never an
// error, so callers fall through to a silent no-op whose response shape
// matches the success path.
func (s *Service) resolveOwner(email string) (*users.User, error) {
	owner, err := s.store.FindByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve email owner: %w", err)
	}
	return owner, nil
}

// LoginTicket correlates a dispatched login link with the browsing
// context that asked for it.
type LoginTicket struct {
	RequestID string
}

// RequestLogin starts a magic-link login for an email, optionally on
// behalf of a guest identity. A nil ticket with nil error is the silent
// no-op for unknown emails: nothing is written and nothing is sent.
func (s *Service) RequestLogin(email, guestID string) (*LoginTicket, error) {
	owner, err := s.resolveOwner(email)
	if err != nil {
		return nil, err
	}

	var subject, tokenGuest string
	switch {
	case owner != nil:
		subject = owner.ID
		if guestID != "" && guestID != owner.ID {
			// verification will fold the guest into the owner
			tokenGuest = guestID
		}
	case guestID != "":
		guest, err := s.store.FindOrCreateGuest(guestID)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.ClaimEmail(guest.ID, email); err != nil {
			return nil, err
		}
		subject = guest.ID
	default:
		s.logger.Debug("login requested for unknown email, nothing sent")
		return nil, nil
	}

	requestID := uuid.NewString()
	token, err := s.codec.IssueLogin(tokens.LoginPayload{
		UserID:    subject,
		Email:     email,
		GuestID:   tokenGuest,
		RequestID: requestID,
	}, s.config.Token.LoginExpiry)
	if err != nil {
		return nil, err
	}

	if err := s.pending.Create(requestID, subject, s.config.Token.LoginExpiry); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/auth/verify?token=%s", s.config.App.URL, token)
	if err := s.mailer.SendLoginLink(email, url); err != nil {
		s.logger.Error("failed to send login link", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	s.logger.Info("login link sent",
		zap.String("user_id", subject),
		zap.String("request_id", requestID))
	return &LoginTicket{RequestID: requestID}, nil
}

type LoginResult struct {
	UserID    string
	Email     string
	RequestID string
}

// CompleteLogin verifies a clicked login link and resolves the identity.
// If the link carries a guest id distinct from the subject, the guest's
// emails are absorbed into the subject and the guest row is discarded;
// absorption is opportunistic and never blocks the login. The caller
// mints the session and completes the matching pending request.
func (s *Service) CompleteLogin(tokenString string) (*LoginResult, error) {
	payload, err := s.codec.VerifyLogin(tokenString)
	if err != nil {
		return nil, mapTokenError(err)
	}

	// the subject must exist before any absorption: a guest folded into a
	// deleted account would leave its emails owned by nobody
	if _, err := s.store.FindByID(payload.UserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			// the account vanished between send and click
			return nil, ErrInvalidOrExpiredLink
		}
		return nil, err
	}

	s.absorbGuest(payload.GuestID, payload.UserID)

	if err := s.store.SetLastLogin(payload.UserID, time.Now()); err != nil {
		return nil, err
	}

	s.logger.Info("login completed", zap.String("user_id", payload.UserID))
	return &LoginResult{
		UserID:    payload.UserID,
		Email:     payload.Email,
		RequestID: payload.RequestID,
	}, nil
}

// absorbGuest folds a guest identity into the resolved subject. Missing
// or already-claimed guests are skipped silently: a retried link must not
// fail because the first click already absorbed the guest.
func (s *Service) absorbGuest(guestID, subjectID string) {
	if guestID == "" || guestID == subjectID {
		return
	}

	guest, err := s.store.FindByID(guestID)
	if err != nil {
		if !errors.Is(err, users.ErrUserNotFound) {
			s.logger.Warn("guest lookup failed during absorption", zap.Error(err))
		}
		return
	}
	if !guest.IsGuest() {
		s.logger.Debug("absorption skipped: identity is no longer a guest",
			zap.String("guest_id", guestID))
		return
	}

	if err := s.store.ReassignEmails(guestID, subjectID); err != nil {
		s.logger.Error("guest absorption failed to move emails", zap.Error(err))
		return
	}
	if err := s.store.DeleteUser(guestID); err != nil {
		s.logger.Error("guest absorption failed to delete guest", zap.Error(err))
		return
	}

	s.logger.Info("guest absorbed",
		zap.String("guest_id", guestID),
		zap.String("user_id", subjectID))
}

type AdditionStatus string

const (
	AdditionAlreadyYours     AdditionStatus = "already-yours"
	AdditionConflict         AdditionStatus = "conflict"
	AdditionVerificationSent AdditionStatus = "verification-sent"
)

type AdditionTicket struct {
	Status AdditionStatus
	// ConflictOwner is the display name of the current owner when the
	// status is "conflict"; the available next action is a merge
	// request, not an addition.
	ConflictOwner string
}

// RequestEmailAddition starts verification of an extra email for an
// existing account. Conflicts never issue a token or send mail. Sessions
// are stateless, so a caller whose account was deleted can still present
// a valid one; the account must be looked up before anything is issued.
func (s *Service) RequestEmailAddition(ownerID, email string) (*AdditionTicket, error) {
	if _, err := s.store.FindByID(ownerID); err != nil {
		return nil, err
	}

	current, err := s.resolveOwner(email)
	if err != nil {
		return nil, err
	}

	if current != nil {
		if current.ID == ownerID {
			return &AdditionTicket{Status: AdditionAlreadyYours}, nil
		}
		return &AdditionTicket{
			Status:        AdditionConflict,
			ConflictOwner: current.Nickname,
		}, nil
	}

	token, err := s.codec.IssueAddEmail(tokens.AddEmailPayload{
		UserID: ownerID,
		Email:  email,
	}, s.config.Token.AddEmailExpiry)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/auth/verify-email?token=%s", s.config.App.URL, token)
	if err := s.mailer.SendEmailAdditionLink(email, url); err != nil {
		s.logger.Error("failed to send email addition link", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	s.logger.Info("email addition link sent", zap.String("user_id", ownerID))
	return &AdditionTicket{Status: AdditionVerificationSent}, nil
}

type AdditionResult struct {
	UserID string
	Email  string
}

// CompleteEmailAddition verifies an add-email link and claims the
// address onto the subject. The unique-insert in the store resolves the
// race where the address was claimed elsewhere after the link was sent.
func (s *Service) CompleteEmailAddition(tokenString string) (*AdditionResult, error) {
	payload, err := s.codec.VerifyAddEmail(tokenString)
	if err != nil {
		return nil, mapTokenError(err)
	}

	// never claim onto a deleted account; the row would own the address
	// without anyone able to log in through it
	if _, err := s.store.FindByID(payload.UserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, ErrInvalidOrExpiredLink
		}
		return nil, err
	}

	if _, err := s.store.ClaimEmail(payload.UserID, payload.Email); err != nil {
		return nil, err
	}

	s.logger.Info("email addition completed", zap.String("user_id", payload.UserID))
	return &AdditionResult{
		UserID: payload.UserID,
		Email:  payload.Email,
	}, nil
}

// RequestMerge asks the owner of targetEmail to fold their account into
// the requester's. Unknown emails and self-merges report sent=false with
// zero side effects; the caller cannot probe which address exists.
func (s *Service) RequestMerge(requesterID, targetEmail string) (bool, error) {
	requester, err := s.store.FindByID(requesterID)
	if err != nil {
		return false, err
	}

	target, err := s.resolveOwner(targetEmail)
	if err != nil {
		return false, err
	}
	if target == nil || target.ID == requesterID {
		return false, nil
	}

	token, err := s.codec.IssueMergeConfirm(tokens.MergeConfirmPayload{
		SourceUserID: target.ID,
		SourceEmail:  targetEmail,
		TargetUserID: requesterID,
	}, s.config.Token.MergeExpiry)
	if err != nil {
		return false, err
	}

	url := fmt.Sprintf("%s/auth/confirm-merge?token=%s", s.config.App.URL, token)
	if err := s.mailer.SendMergeWarning(targetEmail, url, requester.Nickname); err != nil {
		s.logger.Error("failed to send merge warning", zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	s.logger.Info("merge warning sent",
		zap.String("requester_id", requesterID),
		zap.String("target_id", target.ID))
	return true, nil
}

// CompleteMerge verifies a merge-confirm link and performs the merge:
// every email of the source account moves to the target, then the source
// account is deleted. Once the token checks out the merge is
// unconditional and irreversible; the warning mail sent at request time
// is the only confirmation step. A missing source is a hard failure, not
// a silent success, because the data transfer cannot be skipped quietly.
func (s *Service) CompleteMerge(tokenString string) (string, error) {
	payload, err := s.codec.VerifyMergeConfirm(tokenString)
	if err != nil {
		return "", mapTokenError(err)
	}

	if payload.SourceUserID == payload.TargetUserID {
		return payload.TargetUserID, nil
	}

	if _, err := s.store.FindByID(payload.SourceUserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return "", ErrInvalidOrExpiredLink
		}
		return "", err
	}
	if _, err := s.store.FindByID(payload.TargetUserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return "", ErrInvalidOrExpiredLink
		}
		return "", err
	}

	if err := s.store.ReassignEmails(payload.SourceUserID, payload.TargetUserID); err != nil {
		return "", err
	}
	if err := s.store.DeleteUser(payload.SourceUserID); err != nil {
		return "", err
	}

	s.logger.Info("accounts merged",
		zap.String("source_id", payload.SourceUserID),
		zap.String("target_id", payload.TargetUserID))
	return payload.TargetUserID, nil
}

// RequestRecovery sends login links to every selected-for-login address
// of the account owning the given email. Unknown emails are the usual
// silent no-op. Recovery delivery is best-effort: a failed send is
// logged, not surfaced, so the response shape never varies.
func (s *Service) RequestRecovery(email string) error {
	owner, err := s.resolveOwner(email)
	if err != nil {
		return err
	}
	if owner == nil {
		s.logger.Debug("recovery requested for unknown email, nothing sent")
		return nil
	}

	selected, err := s.store.SelectedEmails(owner.ID)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	emails := make([]string, 0, len(selected))
	urls := make([]string, 0, len(selected))
	for _, row := range selected {
		token, err := s.codec.IssueLogin(tokens.LoginPayload{
			UserID: owner.ID,
			Email:  row.Email,
		}, s.config.Token.LoginExpiry)
		if err != nil {
			return err
		}
		emails = append(emails, row.Email)
		urls = append(urls, fmt.Sprintf("%s/auth/verify?token=%s", s.config.App.URL, token))
	}

	if err := s.mailer.SendRecoveryLinks(emails, urls); err != nil {
		s.logger.Error("failed to send recovery links", zap.Error(err))
		return nil
	}

	s.logger.Info("recovery links sent",
		zap.String("user_id", owner.ID),
		zap.Int("addresses", len(emails)))
	return nil
}

func mapTokenError(err error) error {
	if errors.Is(err, tokens.ErrInvalidPurpose) {
		return ErrInvalidTokenPurpose
	}
	return ErrInvalidOrExpiredLink
}
