package graphql

import "go.uber.org/fx"

// Module wires the GraphQL endpoint into the HTTP server.
var Module = fx.Module("graphql",
	fx.Provide(NewResolver, NewHandler),
	fx.Invoke(Register),
)
