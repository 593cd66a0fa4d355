package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lanternhq/lantern/middleware/sessionauth"
	"github.com/lanternhq/lantern/services/linking"
	"github.com/lanternhq/lantern/services/logging"
	"github.com/lanternhq/lantern/services/pendinglogin"
	"github.com/lanternhq/lantern/services/session"
	"github.com/lanternhq/lantern/users"
	"go.uber.org/zap"
)

// AuthHandler binds the login, verification and polling flows. Every
// request-side endpoint answers identically whether or not the email
// exists; only clicked links reveal anything.
type AuthHandler struct {
	linking  *linking.Service
	sessions *session.Service
	pending  *pendinglogin.Service
	logger   *logging.Service
}

func NewAuthHandler(linkingSvc *linking.Service, sessions *session.Service, pending *pendinglogin.Service, logger *logging.Service) *AuthHandler {
	return &AuthHandler{
		linking:  linkingSvc,
		sessions: sessions,
		pending:  pending,
		logger:   logger,
	}
}

type loginRequest struct {
	Email   string `json:"email"`
	GuestID string `json:"guest_id"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}

	ticket, err := h.linking.RequestLogin(req.Email, req.GuestID)
	if errors.Is(err, linking.ErrEmailTaken) {
		// the address was claimed between resolution and the guest's
		// claim attempt; a retry resolves it to its new owner
		ticket, err = h.linking.RequestLogin(req.Email, req.GuestID)
	}
	if err != nil {
		if errors.Is(err, users.ErrInvalidEmail) {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid email address")
		}
		if errors.Is(err, linking.ErrNotificationFailed) {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send login email")
		}
		h.logger.Error("login request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process login request")
	}

	requestID := ""
	if ticket != nil {
		requestID = ticket.RequestID
	} else {
		// decoy handle for the no-op path so the response shape never
		// betrays whether the email exists
		requestID = uuid.NewString()
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"request_id": requestID,
	})
}

func (h *AuthHandler) Verify(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Token is required")
	}

	result, err := h.linking.CompleteLogin(token)
	if err != nil {
		if errors.Is(err, linking.ErrInvalidOrExpiredLink) || errors.Is(err, linking.ErrInvalidTokenPurpose) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired link")
		}
		h.logger.Error("login verification failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to verify login")
	}

	sessionToken, err := h.sessions.Issue(result.UserID)
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to issue session")
	}

	if result.RequestID != "" {
		// hand the session to whichever device is polling this request
		if err := h.pending.Complete(result.RequestID, sessionToken); err != nil {
			h.logger.Warn("failed to complete pending login", zap.Error(err))
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token":   sessionToken,
		"user_id": result.UserID,
		"email":   result.Email,
	})
}

type pollRequest struct {
	RequestID string `json:"request_id"`
}

func (h *AuthHandler) Poll(c echo.Context) error {
	var req pollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Request id is required")
	}

	result, err := h.pending.Poll(req.RequestID)
	if err != nil {
		if errors.Is(err, pendinglogin.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Unknown login request")
		}
		h.logger.Error("poll failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to poll login request")
	}

	if result.Status == pendinglogin.StatusCompleted {
		return c.JSON(http.StatusOK, map[string]string{
			"status": result.Status,
			"token":  result.SessionToken,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": result.Status,
	})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	userID := sessionauth.GetUserID(c)

	token, err := h.sessions.Refresh(userID)
	if err != nil {
		h.logger.Error("failed to refresh session", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to refresh session")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token": token,
	})
}

// Logout acknowledges a client-side token discard. Sessions are
// stateless so there is nothing to revoke server-side.
func (h *AuthHandler) Logout(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Logged out",
	})
}

type recoverRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) Recover(c echo.Context) error {
	var req recoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}

	if err := h.linking.RequestRecovery(req.Email); err != nil {
		h.logger.Error("recovery request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process recovery request")
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "If the address is known, recovery links have been sent",
	})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Token is required")
	}

	result, err := h.linking.CompleteEmailAddition(token)
	if err != nil {
		if errors.Is(err, linking.ErrEmailTaken) {
			return echo.NewHTTPError(http.StatusConflict, "Email address already belongs to another account")
		}
		if errors.Is(err, linking.ErrInvalidOrExpiredLink) || errors.Is(err, linking.ErrInvalidTokenPurpose) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired link")
		}
		h.logger.Error("email verification failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to verify email")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"user_id": result.UserID,
		"email":   result.Email,
	})
}

func (h *AuthHandler) ConfirmMerge(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Token is required")
	}

	survivorID, err := h.linking.CompleteMerge(token)
	if err != nil {
		if errors.Is(err, linking.ErrInvalidOrExpiredLink) || errors.Is(err, linking.ErrInvalidTokenPurpose) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired link")
		}
		h.logger.Error("merge confirmation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to confirm merge")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"user_id": survivorID,
	})
}

// GuestHandle mints a fresh client-held guest id. No row is written; the
// identity materializes lazily when the client first claims an email.
func (h *AuthHandler) GuestHandle(c echo.Context) error {
	return c.JSON(http.StatusCreated, map[string]string{
		"guest_id": users.NewID(),
	})
}
