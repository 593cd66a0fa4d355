package sessionauth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lanternhq/lantern/services/session"
)

const UserIDKey = "_session_user_id"

func RequireSession(sessions *session.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Session token required")
			}

			userID, err := sessions.Validate(tokenString)
			if err != nil {
				switch err {
				case session.ErrExpiredSession:
					return echo.NewHTTPError(http.StatusUnauthorized, "Session has expired")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid session token")
				}
			}

			c.Set(UserIDKey, userID)

			return next(c)
		}
	}
}

func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
