package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lanternhq/lantern/middleware/sessionauth"
	"github.com/lanternhq/lantern/services/linking"
	"github.com/lanternhq/lantern/services/logging"
	"github.com/lanternhq/lantern/users"
	"go.uber.org/zap"
)

// UserHandler binds the session-guarded profile surface.
type UserHandler struct {
	store   *users.Store
	linking *linking.Service
	logger  *logging.Service
}

func NewUserHandler(store *users.Store, linkingSvc *linking.Service, logger *logging.Service) *UserHandler {
	return &UserHandler{
		store:   store,
		linking: linkingSvc,
		logger:  logger,
	}
}

type emailResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	SelectedForLogin bool   `json:"selected_for_login"`
}

type profileResponse struct {
	ID        string          `json:"id"`
	Nickname  string          `json:"nickname"`
	FullName  *string         `json:"full_name"`
	IsGuest   bool            `json:"is_guest"`
	LastLogin *time.Time      `json:"last_login"`
	Emails    []emailResponse `json:"emails"`
}

func toProfileResponse(user *users.User) profileResponse {
	emails := make([]emailResponse, 0, len(user.Emails))
	for _, e := range user.Emails {
		emails = append(emails, emailResponse{
			ID:               e.ID,
			Email:            e.Email,
			SelectedForLogin: e.SelectedForLogin,
		})
	}
	return profileResponse{
		ID:        user.ID,
		Nickname:  user.Nickname,
		FullName:  user.FullName,
		IsGuest:   user.IsGuest(),
		LastLogin: user.LastLogin,
		Emails:    emails,
	}
}

func (h *UserHandler) GetProfile(c echo.Context) error {
	user, err := h.store.FindByID(sessionauth.GetUserID(c))
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Account not found")
		}
		h.logger.Error("failed to load profile", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load profile")
	}

	return c.JSON(http.StatusOK, toProfileResponse(user))
}

type updateProfileRequest struct {
	Nickname *string `json:"nickname"`
	FullName *string `json:"full_name"`
}

func (h *UserHandler) UpdateProfile(c echo.Context) error {
	var req updateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	user, err := h.store.UpdateProfile(sessionauth.GetUserID(c), users.ProfileUpdate{
		Nickname: req.Nickname,
		FullName: req.FullName,
	})
	if err != nil {
		if errors.Is(err, users.ErrNicknameTaken) {
			return echo.NewHTTPError(http.StatusConflict, "Nickname is already taken")
		}
		if errors.Is(err, users.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Account not found")
		}
		h.logger.Error("failed to update profile", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update profile")
	}

	return c.JSON(http.StatusOK, toProfileResponse(user))
}

type addEmailRequest struct {
	Email string `json:"email"`
}

func (h *UserHandler) AddEmail(c echo.Context) error {
	var req addEmailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}

	ticket, err := h.linking.RequestEmailAddition(sessionauth.GetUserID(c), req.Email)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Account not found")
		}
		if errors.Is(err, linking.ErrNotificationFailed) {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send verification email")
		}
		h.logger.Error("email addition request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process email addition")
	}

	resp := map[string]string{"status": string(ticket.Status)}
	if ticket.Status == linking.AdditionConflict {
		resp["owner"] = ticket.ConflictOwner
	}
	return c.JSON(http.StatusOK, resp)
}

type mergeRequest struct {
	Email string `json:"email"`
}

// RequestMerge always answers 202 with the same body. Whether the email
// resolved to an account is not disclosed to the requester; the owner
// gets the warning mail either way or nothing happens.
func (h *UserHandler) RequestMerge(c echo.Context) error {
	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}

	if _, err := h.linking.RequestMerge(sessionauth.GetUserID(c), req.Email); err != nil {
		if errors.Is(err, linking.ErrNotificationFailed) {
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send confirmation email")
		}
		h.logger.Error("merge request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process merge request")
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "If the address belongs to another account, its owner has been asked to confirm",
	})
}

func (h *UserHandler) RemoveEmail(c echo.Context) error {
	user, err := h.store.RemoveEmail(sessionauth.GetUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, users.ErrLastEmail) {
			return echo.NewHTTPError(http.StatusConflict, "Cannot remove the last email address")
		}
		if errors.Is(err, users.ErrEmailNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Email address not found")
		}
		h.logger.Error("failed to remove email", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to remove email")
	}

	return c.JSON(http.StatusOK, toProfileResponse(user))
}

type updateSelectionRequest struct {
	EmailIDs []string `json:"email_ids"`
}

func (h *UserHandler) UpdateEmailSelection(c echo.Context) error {
	var req updateSelectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	selected, err := h.store.UpdateEmailSelection(sessionauth.GetUserID(c), req.EmailIDs)
	if err != nil {
		if errors.Is(err, users.ErrNoSelection) {
			return echo.NewHTTPError(http.StatusBadRequest, "At least one email must stay selected for login")
		}
		if errors.Is(err, users.ErrEmailNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Email address not found")
		}
		h.logger.Error("failed to update email selection", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update email selection")
	}

	emails := make([]emailResponse, 0, len(selected))
	for _, e := range selected {
		emails = append(emails, emailResponse{
			ID:               e.ID,
			Email:            e.Email,
			SelectedForLogin: e.SelectedForLogin,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"emails": emails})
}

// DeleteProfile removes the account. mode=anonymize strips emails and
// personal fields but keeps the row so references to the id stay valid;
// the default mode deletes the row outright.
func (h *UserHandler) DeleteProfile(c echo.Context) error {
	userID := sessionauth.GetUserID(c)

	var err error
	switch c.QueryParam("mode") {
	case "anonymize":
		err = h.store.AnonymizeUser(userID)
	default:
		err = h.store.DeleteUser(userID)
	}
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Account not found")
		}
		h.logger.Error("failed to delete profile", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete profile")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Account removed",
	})
}
