package http_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
	httpserver "github.com/Additional-Code/ordergate/internal/server/http"
	"github.com/Additional-Code/ordergate/internal/transport/graphql"
)

type brokenSource struct{}

func (brokenSource) Token(*http.Request) (string, error) {
	return "", errors.New("token header malformed")
}

func TestHealth(t *testing.T) {
	e := httpserver.NewEcho(config.Config{}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	e := httpserver.NewEcho(config.Config{}, nil, zap.NewNop())
	e.POST("/graphql", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	req.Header.Set("Origin", "http://portal.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRejectedCredentialIsUnauthorized(t *testing.T) {
	e := httpserver.NewEcho(config.Config{}, nil, zap.NewNop())
	e.POST("/graphql", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, graphql.Credentials(brokenSource{}, zap.NewNop()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"invalid backend credential","kind":"unauthorized"}`, rec.Body.String())
}

func TestUnknownErrorFallsBackToEcho(t *testing.T) {
	e := httpserver.NewEcho(config.Config{}, nil, zap.NewNop())
	e.GET("/teapot", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
