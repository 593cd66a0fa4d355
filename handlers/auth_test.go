package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lanternhq/lantern/config"
	"github.com/lanternhq/lantern/services/linking"
	"github.com/lanternhq/lantern/services/pendinglogin"
	"github.com/lanternhq/lantern/services/session"
	"github.com/lanternhq/lantern/services/tokens"
	"github.com/lanternhq/lantern/testutils"
	"github.com/lanternhq/lantern/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type handlerFixture struct {
	echo     *echo.Echo
	auth     *AuthHandler
	user     *UserHandler
	store    *users.Store
	codec    *tokens.Service
	sessions *session.Service
	pending  *pendinglogin.Service
	mailer   *testutils.MockMailer
	db       *gorm.DB
	cfg      *config.Config
}

func setupHandlers(t *testing.T) *handlerFixture {
	db := testutils.SetupTestDB(t,
		&users.User{}, &users.UserEmail{}, &pendinglogin.PendingLoginRequest{})
	cfg := testutils.GetTestConfig()
	store := users.NewStore(db, nil)
	codec := tokens.NewService(cfg, nil)
	pending := pendinglogin.NewService(db, nil)
	sessions := session.NewService(cfg, nil)
	mailer := &testutils.MockMailer{}
	linkingSvc := linking.NewService(cfg, store, codec, pending, mailer, nil)

	return &handlerFixture{
		echo:     echo.New(),
		auth:     NewAuthHandler(linkingSvc, sessions, pending, nil),
		user:     NewUserHandler(store, linkingSvc, nil),
		store:    store,
		codec:    codec,
		sessions: sessions,
		pending:  pending,
		mailer:   mailer,
		db:       db,
		cfg:      cfg,
	}
}

func (f *handlerFixture) jsonRequest(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return f.echo.NewContext(req, rec), rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (f *handlerFixture) createAccount(t *testing.T, nickname, email string) *users.User {
	t.Helper()
	user := &users.User{ID: users.NewID(), Nickname: nickname}
	require.NoError(t, f.db.Create(user).Error)
	_, err := f.store.ClaimEmail(user.ID, email)
	require.NoError(t, err)
	return user
}

func (f *handlerFixture) lastLinkToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mailer.Calls)
	url := f.mailer.Calls[len(f.mailer.Calls)-1].Arguments.String(1)
	_, token, found := strings.Cut(url, "token=")
	require.True(t, found)
	return token
}

func TestLogin_KnownEmail(t *testing.T) {
	f := setupHandlers(t)
	f.createAccount(t, "alice", "alice@example.com")
	f.mailer.On("SendLoginLink", "alice@example.com", mock.Anything).Return(nil)

	c, rec := f.jsonRequest(http.MethodPost, "/auth/login", `{"email":"alice@example.com"}`)
	require.NoError(t, f.auth.Login(c))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["request_id"])
	f.mailer.AssertExpectations(t)
}

func TestLogin_UnknownEmailReturnsDecoyRequestID(t *testing.T) {
	f := setupHandlers(t)

	c, rec := f.jsonRequest(http.MethodPost, "/auth/login", `{"email":"nobody@example.com"}`)
	require.NoError(t, f.auth.Login(c))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)

	// the decoy is indistinguishable from a real handle
	_, err := uuid.Parse(body["request_id"])
	assert.NoError(t, err)
	f.mailer.AssertNotCalled(t, "SendLoginLink", mock.Anything, mock.Anything)
}

func TestLogin_MissingEmail(t *testing.T) {
	f := setupHandlers(t)

	c, _ := f.jsonRequest(http.MethodPost, "/auth/login", `{}`)
	err := f.auth.Login(c)

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpError.Code)
}

func TestVerify_CompletesLoginAndPendingRequest(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")
	f.mailer.On("SendLoginLink", mock.Anything, mock.Anything).Return(nil)

	c, rec := f.jsonRequest(http.MethodPost, "/auth/login", `{"email":"alice@example.com"}`)
	require.NoError(t, f.auth.Login(c))
	requestID := decodeBody(t, rec)["request_id"]

	c, rec = f.jsonRequest(http.MethodGet, "/auth/verify?token="+f.lastLinkToken(t), "")
	require.NoError(t, f.auth.Verify(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, user.ID, body["user_id"])
	assert.Equal(t, "alice@example.com", body["email"])

	verifiedID, err := f.sessions.Validate(body["token"])
	require.NoError(t, err)
	assert.Equal(t, user.ID, verifiedID)

	// the original device can now collect the same session by polling
	c, rec = f.jsonRequest(http.MethodPost, "/auth/poll", `{"request_id":"`+requestID+`"}`)
	require.NoError(t, f.auth.Poll(c))
	pollBody := decodeBody(t, rec)
	assert.Equal(t, pendinglogin.StatusCompleted, pollBody["status"])
	assert.Equal(t, body["token"], pollBody["token"])
}

func TestVerify_InvalidToken(t *testing.T) {
	f := setupHandlers(t)

	c, _ := f.jsonRequest(http.MethodGet, "/auth/verify?token=garbage", "")
	err := f.auth.Verify(c)

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpError.Code)
}

func TestPoll_Pending(t *testing.T) {
	f := setupHandlers(t)
	f.createAccount(t, "alice", "alice@example.com")
	f.mailer.On("SendLoginLink", mock.Anything, mock.Anything).Return(nil)

	c, rec := f.jsonRequest(http.MethodPost, "/auth/login", `{"email":"alice@example.com"}`)
	require.NoError(t, f.auth.Login(c))
	requestID := decodeBody(t, rec)["request_id"]

	c, rec = f.jsonRequest(http.MethodPost, "/auth/poll", `{"request_id":"`+requestID+`"}`)
	require.NoError(t, f.auth.Poll(c))

	body := decodeBody(t, rec)
	assert.Equal(t, pendinglogin.StatusPending, body["status"])
	assert.Empty(t, body["token"])
}

func TestPoll_UnknownRequest(t *testing.T) {
	f := setupHandlers(t)

	c, _ := f.jsonRequest(http.MethodPost, "/auth/poll", `{"request_id":"`+uuid.NewString()+`"}`)
	err := f.auth.Poll(c)

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpError.Code)
}

func TestRecover_AlwaysAccepted(t *testing.T) {
	f := setupHandlers(t)

	c, rec := f.jsonRequest(http.MethodPost, "/auth/recover", `{"email":"nobody@example.com"}`)
	require.NoError(t, f.auth.Recover(c))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	f.mailer.AssertNotCalled(t, "SendRecoveryLinks", mock.Anything, mock.Anything)
}

func TestVerifyEmail_AddsAddress(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")

	token, err := f.codec.IssueAddEmail(tokens.AddEmailPayload{
		UserID: user.ID,
		Email:  "extra@example.com",
	}, f.cfg.Token.AddEmailExpiry)
	require.NoError(t, err)

	c, rec := f.jsonRequest(http.MethodGet, "/auth/verify-email?token="+token, "")
	require.NoError(t, f.auth.VerifyEmail(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, user.ID, body["user_id"])
	assert.Equal(t, "extra@example.com", body["email"])
}

func TestVerifyEmail_Conflict(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")
	f.createAccount(t, "bob", "taken@example.com")

	token, err := f.codec.IssueAddEmail(tokens.AddEmailPayload{
		UserID: user.ID,
		Email:  "taken@example.com",
	}, f.cfg.Token.AddEmailExpiry)
	require.NoError(t, err)

	c, _ := f.jsonRequest(http.MethodGet, "/auth/verify-email?token="+token, "")
	err = f.auth.VerifyEmail(c)

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, httpError.Code)
}

func TestConfirmMerge_RejectsWrongPurpose(t *testing.T) {
	f := setupHandlers(t)
	user := f.createAccount(t, "alice", "alice@example.com")

	token, err := f.codec.IssueLogin(tokens.LoginPayload{
		UserID: user.ID,
		Email:  "alice@example.com",
	}, f.cfg.Token.LoginExpiry)
	require.NoError(t, err)

	c, _ := f.jsonRequest(http.MethodGet, "/auth/confirm-merge?token="+token, "")
	err = f.auth.ConfirmMerge(c)

	require.Error(t, err)
	httpError, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpError.Code)
}

func TestGuestHandle_NoRowWritten(t *testing.T) {
	f := setupHandlers(t)

	c, rec := f.jsonRequest(http.MethodPost, "/users/guest", "")
	require.NoError(t, f.auth.GuestHandle(c))

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	_, err := uuid.Parse(body["guest_id"])
	assert.NoError(t, err)

	var count int64
	f.db.Model(&users.User{}).Count(&count)
	assert.Zero(t, count, "guest identities materialize lazily")
}

func TestLogout(t *testing.T) {
	f := setupHandlers(t)

	c, rec := f.jsonRequest(http.MethodPost, "/auth/logout", "")
	require.NoError(t, f.auth.Logout(c))

	assert.Equal(t, http.StatusOK, rec.Code)
}
