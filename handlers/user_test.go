package handlers

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lanternhq/lantern/middleware/sessionauth"
	"github.com/lanternhq/lantern/services/linking"
	"github.com/lanternhq/lantern/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func asUser(c echo.Context, userID string) echo.Context {
	c.Set(sessionauth.UserIDKey, userID)
	return c
}

func TestRefresh_IssuesNewToken(t *testing.T) {
	f := setupHandlers(t)

	c, rec := f.jsonRequest(http.MethodPost, "/auth/refresh", "")
	require.NoError(t, f.auth.Refresh(asUser(c, "user-1")))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	userID, err := f.sessions.Validate(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestGetProfile(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")

	c, rec := f.jsonRequest(http.MethodGet, "/user/profile", "")
	require.NoError(t, f.user.GetProfile(asUser(c, user.ID)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nickname":"alice"`)
	assert.Contains(t, rec.Body.String(), `"alice@example.com"`)
	assert.Contains(t, rec.Body.String(), `"is_guest":false`)
}

func TestGetProfile_UnknownAccount(t *testing.T) {
	f := setupHandlers(t)

	c, _ := f.jsonRequest(http.MethodGet, "/user/profile", "")
	err := f.user.GetProfile(asUser(c, users.NewID()))

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpError.Code)
}

func TestUpdateProfile_NicknameConflict(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")
	f.createAccount(t, "bob", "bob@example.com")

	c, _ := f.jsonRequest(http.MethodPut, "/user/profile", `{"nickname":"bob"}`)
	err := f.user.UpdateProfile(asUser(c, user.ID))

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, httpError.Code)
}

func TestUpdateProfile_Success(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")

	c, rec := f.jsonRequest(http.MethodPut, "/user/profile",
		`{"nickname":"alice2","full_name":"Alice Example"}`)
	require.NoError(t, f.user.UpdateProfile(asUser(c, user.ID)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nickname":"alice2"`)
	assert.Contains(t, rec.Body.String(), `"full_name":"Alice Example"`)
}

func TestAddEmail_StatusPassthrough(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")
	f.createAccount(t, "bob", "bob@example.com")

	t.Run("already yours", func(t *testing.T) {
		c, rec := f.jsonRequest(http.MethodPost, "/user/emails", `{"email":"alice@example.com"}`)
		require.NoError(t, f.user.AddEmail(asUser(c, user.ID)))

		body := decodeBody(t, rec)
		assert.Equal(t, string(linking.AdditionAlreadyYours), body["status"])
	})

	t.Run("conflict names the owner", func(t *testing.T) {
		c, rec := f.jsonRequest(http.MethodPost, "/user/emails", `{"email":"bob@example.com"}`)
		require.NoError(t, f.user.AddEmail(asUser(c, user.ID)))

		body := decodeBody(t, rec)
		assert.Equal(t, string(linking.AdditionConflict), body["status"])
		assert.Equal(t, "bob", body["owner"])
	})

	t.Run("verification sent", func(t *testing.T) {
		f.mailer.On("SendEmailAdditionLink", "extra@example.com", mock.Anything).Return(nil)

		c, rec := f.jsonRequest(http.MethodPost, "/user/emails", `{"email":"extra@example.com"}`)
		require.NoError(t, f.user.AddEmail(asUser(c, user.ID)))

		body := decodeBody(t, rec)
		assert.Equal(t, string(linking.AdditionVerificationSent), body["status"])
	})
}

func TestRequestMerge_SameBodyEitherWay(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")
	f.createAccount(t, "bob", "bob@example.com")
	f.mailer.On("SendMergeWarning", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	c, recKnown := f.jsonRequest(http.MethodPost, "/user/merge", `{"email":"bob@example.com"}`)
	require.NoError(t, f.user.RequestMerge(asUser(c, user.ID)))

	c, recUnknown := f.jsonRequest(http.MethodPost, "/user/merge", `{"email":"nobody@example.com"}`)
	require.NoError(t, f.user.RequestMerge(asUser(c, user.ID)))

	assert.Equal(t, http.StatusAccepted, recKnown.Code)
	assert.Equal(t, recKnown.Body.String(), recUnknown.Body.String())
}

func TestRemoveEmail(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")
	extra, err := f.store.ClaimEmail(user.ID, "extra@example.com")
	require.NoError(t, err)

	t.Run("removes a secondary address", func(t *testing.T) {
		c, rec := f.jsonRequest(http.MethodDelete, "/user/emails/"+extra.ID, "")
		c.SetParamNames("id")
		c.SetParamValues(extra.ID)
		require.NoError(t, f.user.RemoveEmail(asUser(c, user.ID)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "extra@example.com")
	})

	t.Run("refuses to remove the last address", func(t *testing.T) {
		remaining, err := f.store.FindByID(user.ID)
		require.NoError(t, err)
		require.Len(t, remaining.Emails, 1)

		c, _ := f.jsonRequest(http.MethodDelete, "/user/emails/"+remaining.Emails[0].ID, "")
		c.SetParamNames("id")
		c.SetParamValues(remaining.Emails[0].ID)
		err = f.user.RemoveEmail(asUser(c, user.ID))

		require.Error(t, err)
		httpError, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusConflict, httpError.Code)
	})
}

func TestUpdateEmailSelection_RequiresOne(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")

	c, _ := f.jsonRequest(http.MethodPut, "/user/emails/selection", `{"email_ids":[]}`)
	err := f.user.UpdateEmailSelection(asUser(c, user.ID))

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpError.Code)
}

func TestDeleteProfile_Modes(t *testing.T) {
	f := setupHandlers(t)

	t.Run("delete removes the account", func(t *testing.T) {
		user := f.createAccount(t, "alice", "alice@example.com")

		c, rec := f.jsonRequest(http.MethodDelete, "/user/profile", "")
		require.NoError(t, f.user.DeleteProfile(asUser(c, user.ID)))

		assert.Equal(t, http.StatusOK, rec.Code)
		_, err := f.store.FindByID(user.ID)
		assert.ErrorIs(t, err, users.ErrUserNotFound)
	})

	t.Run("anonymize keeps the row", func(t *testing.T) {
		user := f.createAccount(t, "bob", "bob@example.com")

		c, rec := f.jsonRequest(http.MethodDelete, "/user/profile?mode=anonymize", "")
		require.NoError(t, f.user.DeleteProfile(asUser(c, user.ID)))

		assert.Equal(t, http.StatusOK, rec.Code)
		anonymized, err := f.store.FindByID(user.ID)
		require.NoError(t, err)
		assert.Empty(t, anonymized.Emails)
		assert.NotEqual(t, "bob", anonymized.Nickname)
	})
}
