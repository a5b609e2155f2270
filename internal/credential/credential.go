// Package credential carries the backend identity token through a request.
package credential

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"

	"github.com/Additional-Code/ordergate/internal/config"
)

// ErrMissing is returned when no credential can be resolved.
var ErrMissing = errors.New("backend credential missing")

type ctxKey struct{}

// WithToken returns a context carrying token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

// FromContext returns the token stored by WithToken.
func FromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ctxKey{}).(string)
	return token, ok && token != ""
}

// Source resolves the credential for an inbound request.
type Source interface {
	Token(r *http.Request) (string, error)
}

// Static returns the same configured token for every request.
type Static string

// Token implements Source.
func (s Static) Token(*http.Request) (string, error) {
	if s == "" {
		return "", ErrMissing
	}
	return string(s), nil
}

// Module provides the configured Source.
var Module = fx.Provide(NewSource)

// NewSource builds the Source from configuration.
func NewSource(cfg config.Config) Source {
	return Static(cfg.Backend.Token)
}
