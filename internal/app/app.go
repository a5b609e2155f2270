package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/credential"
	"github.com/Additional-Code/ordergate/internal/logger"
	"github.com/Additional-Code/ordergate/internal/messaging"
	"github.com/Additional-Code/ordergate/internal/observability"
	"github.com/Additional-Code/ordergate/internal/relay"
	repositoryorder "github.com/Additional-Code/ordergate/internal/repository/order"
	grpcserver "github.com/Additional-Code/ordergate/internal/server/grpc"
	httpserver "github.com/Additional-Code/ordergate/internal/server/http"
	serviceorder "github.com/Additional-Code/ordergate/internal/service/order"
	"github.com/Additional-Code/ordergate/internal/transport/graphql"
	"github.com/Additional-Code/ordergate/internal/worker"
	workerorder "github.com/Additional-Code/ordergate/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	logger.Module,
	observability.Module,
	messaging.Module,
	relay.Module,
	credential.Module,
	repositoryorder.Module,
	serviceorder.Module,
)

// Gateway serves GraphQL over HTTP plus the gRPC health service.
var Gateway = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	graphql.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring.
var Module = Gateway
