package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/credential"
	"github.com/Additional-Code/ordergate/internal/entity"
	"github.com/Additional-Code/ordergate/internal/messaging"
	"github.com/Additional-Code/ordergate/internal/relay"
	repo "github.com/Additional-Code/ordergate/internal/repository/order"
	"github.com/Additional-Code/ordergate/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/ordergate/service/order")

// EventOrderSubmitted is the event name on the message bus.
const EventOrderSubmitted = "order.submitted"

// Repository is the backend access the service needs.
type Repository interface {
	List(ctx context.Context, since *string) (repo.ListResult, error)
	Get(ctx context.Context, number string) (*entity.Order, error)
	Create(ctx context.Context, order entity.Order) error
	Update(ctx context.Context, order entity.Order) error
	UpdateContents(ctx context.Context, number, contents string) error
	Limit() int
}

// Service implements the order workflow on top of the REST backend. It
// keeps no order state of its own; the credential travels in the context.
type Service struct {
	repo      Repository
	relay     relay.Relay
	publisher messaging.Client
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Relay      relay.Relay
	Publisher  messaging.Client
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return New(p.Repository, p.Relay, p.Publisher, p.Logger)
}

// New builds a Service. publisher may be nil.
func New(r Repository, rl relay.Relay, publisher messaging.Client, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:      r,
		relay:     rl,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListOrders returns the backend's orders, restricted to those updated
// after since when given. The listing is capped at the repository limit.
func (s *Service) ListOrders(ctx context.Context, since *string) ([]entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	res, err := s.repo.List(ctx, since)
	if err != nil {
		return nil, s.fail(span, "list orders", err)
	}
	if res.Total > int64(len(res.Items)) {
		s.logger.Warn("order listing truncated",
			zap.Int("returned", len(res.Items)),
			zap.Int64("total", res.Total),
			zap.Int("limit", s.repo.Limit()),
		)
	}
	return res.Items, nil
}

// CreateOrder registers a new draft order and returns it as sent.
func (s *Service) CreateOrder(ctx context.Context, orderNumber string) (*entity.Order, error) {
	if orderNumber == "" {
		return nil, errorbank.BadRequest("orderNumber is required")
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(attribute.String("order.number", orderNumber)))
	defer span.End()

	now := entity.Timestamp(s.now())
	order := entity.Order{
		OrderNumber:  orderNumber,
		State:        entity.OrderStateDraft,
		CreationDate: now,
		UpdateDate:   now,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, s.fail(span, "create order", err)
	}

	s.logger.Info("order created", zap.String("order_number", orderNumber))
	return &order, nil
}

// UpdateContents stores contents on the order and returns the refreshed
// record.
func (s *Service) UpdateContents(ctx context.Context, orderNumber, contents string) (*entity.Order, error) {
	if orderNumber == "" {
		return nil, errorbank.BadRequest("orderNumber is required")
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.UpdateContents", trace.WithAttributes(attribute.String("order.number", orderNumber)))
	defer span.End()

	if err := s.repo.UpdateContents(ctx, orderNumber, contents); err != nil {
		return nil, s.fail(span, "update contents", err)
	}
	order, err := s.repo.Get(ctx, orderNumber)
	if err != nil {
		return nil, s.fail(span, "load order", err)
	}
	return order, nil
}

// Submit moves an order to Submitted, writes it back and announces it. An
// order that is already submitted is stamped and announced again. The
// returned order is the locally mutated copy, not a re-fetch.
func (s *Service) Submit(ctx context.Context, orderNumber string) (*entity.Order, error) {
	if orderNumber == "" {
		return nil, errorbank.BadRequest("orderNumber is required")
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.Submit", trace.WithAttributes(attribute.String("order.number", orderNumber)))
	defer span.End()

	order, err := s.repo.Get(ctx, orderNumber)
	if err != nil {
		return nil, s.fail(span, "load order", err)
	}
	if order.State == entity.OrderStateSubmitted {
		s.logger.Info("resubmitting order",
			zap.String("order_number", orderNumber),
			zap.String("previous_submission_date", order.SubmissionDate),
		)
	}

	order.Submit(s.now())
	if err := s.repo.Update(ctx, *order); err != nil {
		return nil, s.fail(span, "submit order", err)
	}

	s.logger.Info("order submitted",
		zap.String("order_number", orderNumber),
		zap.String("submission_date", order.SubmissionDate),
	)

	if s.relay != nil {
		s.relay.Publish(ctx, order.Clone())
	}
	s.publishOrderSubmitted(ctx, *order)
	return order, nil
}

func (s *Service) publishOrderSubmitted(ctx context.Context, order entity.Order) {
	if s.publisher == nil || !s.publisher.Enabled() {
		return
	}
	payload, err := json.Marshal(order)
	if err != nil {
		s.logger.Error("marshal order submitted", zap.Error(err))
		return
	}
	err = s.publisher.Publish(ctx, messaging.Message{
		Key:     []byte("order-" + order.OrderNumber),
		Value:   payload,
		Headers: map[string]string{messaging.HeaderEvent: EventOrderSubmitted},
	})
	if err != nil {
		s.logger.Error("publish order submitted",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}
}

// fail maps a repository error onto the error taxonomy. Every backend
// failure, not-found included, is an upstream error carrying the status.
func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)

	if errors.Is(err, credential.ErrMissing) {
		return errorbank.Unauthorized(op + " requires a backend credential")
	}

	opts := []errorbank.Option{errorbank.WithCause(err)}
	var statusErr *repo.StatusError
	if errors.As(err, &statusErr) {
		opts = append(opts, errorbank.WithDetail("status", statusErr.StatusCode))
	}
	return errorbank.Upstream(op+" failed", opts...)
}
