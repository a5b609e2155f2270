package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/messaging"
)

var workerMeter = otel.Meter("github.com/Additional-Code/ordergate/worker")

// HandlerRegistration binds a topic, and optionally an event name carried
// in the event header, to a handler. An empty Event matches every message
// on the topic.
type HandlerRegistration struct {
	Topic   string
	Event   string
	Handler messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

type routeKey struct {
	topic string
	event string
}

// Engine orchestrates background message consumption.
type Engine struct {
	client    messaging.Client
	logger    *zap.Logger
	cfg       config.Config
	routes    map[routeKey]messaging.Handler
	processed metric.Int64Counter
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) *Engine {
	routes := make(map[routeKey]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		routes[routeKey{topic: r.Topic, event: r.Event}] = r.Handler
	}

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker")

	processed, err := workerMeter.Int64Counter("worker.messages.processed",
		metric.WithDescription("Messages handled by the worker engine"))
	if err != nil {
		logger.Warn("worker metric unavailable", zap.Error(err))
	}

	return &Engine{
		client:    p.Client,
		logger:    logger,
		cfg:       p.Config,
		routes:    routes,
		processed: processed,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

func (e *Engine) start(ctx context.Context) error {
	if !e.cfg.Messaging.Enabled || !e.cfg.Messaging.Workers.Enabled || e.client == nil || !e.client.Enabled() {
		e.logger.Info("worker engine disabled")

		return nil
	}
	if len(e.routes) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")

		return nil
	}

	concurrency := e.cfg.Messaging.Workers.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg = &sync.WaitGroup{}

	for i := 0; i < concurrency; i++ {
		workerID := i
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx, workerID)
		}()
	}

	e.logger.Info("worker engine started", zap.Int("workers", concurrency), zap.String("topic", e.client.Topic()))

	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		if e.wg != nil {
			e.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")

		return nil
	}
}

// Dispatch routes msg to its handler. Messages without a matching handler
// are acknowledged and skipped.
func (e *Engine) Dispatch(ctx context.Context, msg messaging.Message) error {
	event := msg.Headers[messaging.HeaderEvent]
	handler, ok := e.routes[routeKey{topic: msg.Topic, event: event}]
	if !ok {
		handler, ok = e.routes[routeKey{topic: msg.Topic}]
	}
	if !ok {
		e.logger.Warn("no handler for message", zap.String("topic", msg.Topic), zap.String("event", event))

		return nil
	}

	err := handler(ctx, msg)
	if e.processed != nil {
		e.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("event", event),
			attribute.Bool("error", err != nil),
		))
	}
	return err
}

func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			e.logger.Debug("processing message",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Int("worker", workerID),
			)

			return e.Dispatch(msgCtx, msg)
		})

		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error", zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
