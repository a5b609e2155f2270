package graphql

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/entity"
	"github.com/Additional-Code/ordergate/internal/relay"
	service "github.com/Additional-Code/ordergate/internal/service/order"
	"github.com/Additional-Code/ordergate/pkg/errorbank"
)

var graphqlMeter = otel.Meter("github.com/Additional-Code/ordergate/transport/graphql")

// Resolver is the root resolver for queries, mutations and subscriptions.
type Resolver struct {
	svc      *service.Service
	relay    relay.Relay
	logger   *zap.Logger
	duration metric.Float64Histogram
}

// NewResolver constructs the root resolver.
func NewResolver(svc *service.Service, rl relay.Relay, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("graphql")
	duration, err := graphqlMeter.Float64Histogram("graphql.operation.duration",
		metric.WithDescription("Duration of GraphQL root operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("graphql metric unavailable", zap.Error(err))
	}
	return &Resolver{svc: svc, relay: rl, logger: logger, duration: duration}
}

// Orders lists orders, optionally those updated after since.
func (r *Resolver) Orders(ctx context.Context, args struct{ Since *string }) (*[]*orderResolver, error) {
	start := time.Now()
	orders, err := r.svc.ListOrders(ctx, args.Since)
	r.observe(ctx, "orders", start, err, zap.Stringp("since", args.Since))
	if err != nil {
		return nil, err
	}
	out := make([]*orderResolver, len(orders))
	for i := range orders {
		out[i] = &orderResolver{order: orders[i]}
	}
	return &out, nil
}

// CreateOrder registers a draft order.
func (r *Resolver) CreateOrder(ctx context.Context, args struct{ OrderNumber *string }) (*orderResolver, error) {
	start := time.Now()
	order, err := r.svc.CreateOrder(ctx, deref(args.OrderNumber))
	r.observe(ctx, "createOrder", start, err, zap.Stringp("order_number", args.OrderNumber))
	return wrap(order, err)
}

// UpdateContents replaces the contents of an order.
func (r *Resolver) UpdateContents(ctx context.Context, args struct {
	OrderNumber *string
	Contents    *string
}) (*orderResolver, error) {
	start := time.Now()
	order, err := r.svc.UpdateContents(ctx, deref(args.OrderNumber), deref(args.Contents))
	r.observe(ctx, "updateContents", start, err, zap.Stringp("order_number", args.OrderNumber))
	return wrap(order, err)
}

// Submit submits a draft order.
func (r *Resolver) Submit(ctx context.Context, args struct{ OrderNumber *string }) (*orderResolver, error) {
	start := time.Now()
	order, err := r.svc.Submit(ctx, deref(args.OrderNumber))
	r.observe(ctx, "submit", start, err, zap.Stringp("order_number", args.OrderNumber))
	return wrap(order, err)
}

// OrderSubmitted streams every order submitted while the subscription is
// open. The stream ends with ctx.
func (r *Resolver) OrderSubmitted(ctx context.Context) <-chan *orderResolver {
	events := r.relay.Subscribe(ctx)
	out := make(chan *orderResolver)
	r.logger.Debug("subscription opened", zap.String("op", "orderSubmitted"))

	go func() {
		defer close(out)
		defer r.logger.Debug("subscription closed", zap.String("op", "orderSubmitted"))
		for order := range events {
			select {
			case out <- &orderResolver{order: order}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *Resolver) observe(ctx context.Context, op string, start time.Time, err error, fields ...zap.Field) {
	elapsed := time.Since(start)
	if r.duration != nil {
		r.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("graphql.operation", op),
			attribute.Bool("error", err != nil),
		))
	}

	fields = append(fields, zap.String("op", op), zap.Duration("duration", elapsed))
	if err != nil {
		fields = append(fields, zap.String("kind", string(errorbank.From(err).Kind())), zap.Error(err))
		r.logger.Warn("graphql operation failed", fields...)
		return
	}
	r.logger.Debug("graphql operation", fields...)
}

func wrap(order *entity.Order, err error) (*orderResolver, error) {
	if err != nil {
		return nil, err
	}
	return &orderResolver{order: *order}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type orderResolver struct {
	order entity.Order
}

func (o *orderResolver) OrderNumber() *string    { return optional(o.order.OrderNumber) }
func (o *orderResolver) Contents() *string       { return optional(o.order.Contents) }
func (o *orderResolver) SubmissionDate() *string { return optional(o.order.SubmissionDate) }
func (o *orderResolver) CreationDate() *string   { return optional(o.order.CreationDate) }
func (o *orderResolver) UpdateDate() *string     { return optional(o.order.UpdateDate) }
func (o *orderResolver) ProjectNumber() *string  { return optional(o.order.ProjectNumber) }
func (o *orderResolver) Name() *string           { return optional(o.order.Name) }

func (o *orderResolver) State() *entity.OrderState {
	if o.order.State == "" {
		return nil
	}
	state := o.order.State
	return &state
}

func (o *orderResolver) ApplicationForm() *fileResolver {
	if o.order.ApplicationForm == nil {
		return nil
	}
	return &fileResolver{file: *o.order.ApplicationForm}
}

type fileResolver struct {
	file entity.File
}

func (f *fileResolver) ID() *string       { return optional(f.file.ID) }
func (f *fileResolver) Filename() *string { return optional(f.file.Filename) }
func (f *fileResolver) URL() *string      { return optional(f.file.URL) }
