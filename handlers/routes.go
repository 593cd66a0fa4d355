package handlers

import (
	"github.com/lanternhq/lantern/middleware/sessionauth"
	"github.com/lanternhq/lantern/server"
	"github.com/lanternhq/lantern/services/session"
)

func RegisterRoutes(srv *server.Server, auth *AuthHandler, user *UserHandler, sessions *session.Service) {
	requireSession := sessionauth.RequireSession(sessions)

	srv.Post("/auth/login", auth.Login)
	srv.Get("/auth/verify", auth.Verify)
	srv.Post("/auth/poll", auth.Poll)
	srv.Post("/auth/refresh", auth.Refresh, requireSession)
	srv.Post("/auth/logout", auth.Logout)
	srv.Post("/auth/recover", auth.Recover)
	srv.Get("/auth/verify-email", auth.VerifyEmail)
	srv.Get("/auth/confirm-merge", auth.ConfirmMerge)
	srv.Post("/users/guest", auth.GuestHandle)

	profile := srv.Group("/user", requireSession)
	profile.GET("/profile", user.GetProfile)
	profile.PUT("/profile", user.UpdateProfile)
	profile.DELETE("/profile", user.DeleteProfile)
	profile.POST("/emails", user.AddEmail)
	profile.DELETE("/emails/:id", user.RemoveEmail)
	profile.PUT("/emails/selection", user.UpdateEmailSelection)
	profile.POST("/merge", user.RequestMerge)
}
