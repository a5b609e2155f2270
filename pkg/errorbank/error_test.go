package errorbank_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/ordergate/pkg/errorbank"
)

func TestUpstreamExtensions(t *testing.T) {
	cause := errors.New("boom")
	err := errorbank.Upstream("backend request failed",
		errorbank.WithCause(cause),
		errorbank.WithDetail("status", 404),
	)

	assert.Equal(t, "backend request failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode())
	assert.Equal(t, map[string]any{"kind": "upstream", "status": 404}, err.Extensions())
}

func TestFrom(t *testing.T) {
	assert.Nil(t, errorbank.From(nil))

	wrapped := errorbank.From(errors.New("raw"))
	require.NotNil(t, wrapped)
	assert.Equal(t, errorbank.KindInternal, wrapped.Kind())

	orig := errorbank.BadRequest("orderNumber is required")
	assert.Same(t, orig, errorbank.From(orig))
}

func TestIs(t *testing.T) {
	err := errorbank.Unauthorized("missing credential")
	assert.True(t, errorbank.Is(err, errorbank.KindUnauthorized))
	assert.False(t, errorbank.Is(err, errorbank.KindUpstream))
	assert.False(t, errorbank.Is(errors.New("plain"), errorbank.KindInternal))
}

func TestDefaultMessage(t *testing.T) {
	err := errorbank.New(errorbank.KindUnauthorized, "")
	assert.Equal(t, "unauthorized", err.Message())
	assert.Equal(t, http.StatusUnauthorized, err.StatusCode())
	assert.Equal(t, http.StatusInternalServerError, errorbank.Internal("x").StatusCode())
}
