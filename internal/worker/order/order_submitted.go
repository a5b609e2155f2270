package order

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/entity"
	"github.com/Additional-Code/ordergate/internal/messaging"
	ordersvc "github.com/Additional-Code/ordergate/internal/service/order"
	"github.com/Additional-Code/ordergate/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/ordergate/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderSubmittedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderSubmittedHandler records an audit line for every submitted order
// seen on the bus.
func NewOrderSubmittedHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	if logger == nil {
		logger = zap.NewNop()
	}
	audit := logger.Named("audit")

	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.orders.submitted", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		var order entity.Order
		if err := json.Unmarshal(msg.Value, &order); err != nil {
			audit.Error("failed to decode submitted order", zap.Error(err), zap.Int64("offset", msg.Offset))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return fmt.Errorf("decode submitted order: %w", err)
		}
		if order.State != entity.OrderStateSubmitted {
			audit.Warn("ignoring order event in unexpected state",
				zap.String("order_number", order.OrderNumber),
				zap.String("state", string(order.State)),
			)
			return nil
		}
		span.SetAttributes(attribute.String("order.number", order.OrderNumber))

		fields := []zap.Field{
			zap.String("order_number", order.OrderNumber),
			zap.String("submission_date", order.SubmissionDate),
			zap.String("project_number", order.ProjectNumber),
			zap.Time("published_at", msg.Time),
		}
		if order.ApplicationForm != nil {
			fields = append(fields, zap.String("application_form", order.ApplicationForm.ID))
		}
		audit.Info("order submitted", fields...)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Event:   ordersvc.EventOrderSubmitted,
		Handler: handler,
	}
}
