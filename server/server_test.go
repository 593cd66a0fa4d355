package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lanternhq/lantern/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return New(&config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: "8080",
		},
	}, nil)
}

func TestNew(t *testing.T) {
	srv := newTestServer()

	require.NotNil(t, srv)
	require.NotNil(t, srv.Echo())
	assert.True(t, srv.Echo().HideBanner)
}

func TestRouteRegistration(t *testing.T) {
	srv := newTestServer()

	srv.Get("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "pong", string(body))
}

func TestGroupMiddleware(t *testing.T) {
	srv := newTestServer()

	var order []string
	group := srv.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			order = append(order, "middleware")
			return next(c)
		}
	})
	group.GET("/ping", func(c echo.Context) error {
		order = append(order, "handler")
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"middleware", "handler"}, order)
}
