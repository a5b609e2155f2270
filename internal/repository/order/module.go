package order

import "go.uber.org/fx"

// Module provides the REST order repository to Fx.
var Module = fx.Provide(NewRepository)
