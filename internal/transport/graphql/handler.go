package graphql

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	graphqlgo "github.com/graph-gophers/graphql-go"
	gqlrelay "github.com/graph-gophers/graphql-go/relay"
	"github.com/graph-gophers/graphql-transport-ws/graphqlws"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/credential"
	"github.com/Additional-Code/ordergate/pkg/errorbank"
)

// Handler serves GraphQL over HTTP and, on websocket upgrade, over the
// graphql-ws subprotocol.
type Handler struct {
	handler http.Handler
}

// NewHandler parses the schema against resolver.
func NewHandler(cfg config.Config, resolver *Resolver, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []graphqlgo.SchemaOpt{graphqlgo.Logger(panicLogger{logger: logger.Named("graphql")})}
	if cfg.GraphQL.MaxParallelism > 0 {
		opts = append(opts, graphqlgo.MaxParallelism(cfg.GraphQL.MaxParallelism))
	}

	schema, err := graphqlgo.ParseSchema(Schema, resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse graphql schema: %w", err)
	}
	return &Handler{
		handler: graphqlws.NewHandlerFunc(schema, &gqlrelay.Handler{Schema: schema},
			graphqlws.WithContextGenerator(graphqlws.ContextGeneratorFunc(connectionContext)),
		),
	}, nil
}

// connectionContext carries the credential resolved for the upgrade request
// into the websocket connection, whose operations otherwise start from an
// empty context.
func connectionContext(ctx context.Context, r *http.Request) (context.Context, error) {
	if token, ok := credential.FromContext(r.Context()); ok {
		return credential.WithToken(ctx, token), nil
	}
	return ctx, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// Register mounts the handler on the configured path.
func Register(e *echo.Echo, cfg config.Config, h *Handler, src credential.Source, logger *zap.Logger) {
	e.Any(cfg.GraphQL.Path, echo.WrapHandler(h), Credentials(src, logger))
}

// Credentials resolves the backend credential for each request and stores
// it in the request context. A missing credential is not rejected here;
// operations that reach the backend fail as unauthorized instead.
func Credentials(src credential.Source, logger *zap.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			token, err := src.Token(req)
			switch {
			case errors.Is(err, credential.ErrMissing):
				logger.Debug("no backend credential for request", zap.String("path", req.URL.Path))
			case err != nil:
				logger.Warn("resolve backend credential", zap.Error(err))
				return errorbank.Unauthorized("invalid backend credential", errorbank.WithCause(err))
			default:
				c.SetRequest(req.WithContext(credential.WithToken(req.Context(), token)))
			}
			return next(c)
		}
	}
}

type panicLogger struct {
	logger *zap.Logger
}

func (l panicLogger) LogPanic(_ context.Context, value interface{}) {
	l.logger.Error("graphql resolver panic", zap.Any("panic", value), zap.Stack("stack"))
}
