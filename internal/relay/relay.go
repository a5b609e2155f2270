// Package relay fans submitted orders out to live subscribers.
//
// Every subscriber owns a bounded channel. Publish never blocks: when a
// subscriber's channel is full the event is dropped for that subscriber
// only. Events are delivered in Publish call order.
package relay

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/entity"
)

var relayMeter = otel.Meter("github.com/Additional-Code/ordergate/relay")

// Relay is the order-submitted topic.
type Relay interface {
	Publish(ctx context.Context, order entity.Order)
	Subscribe(ctx context.Context) <-chan entity.Order
}

// Hub is the in-process Relay.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
	logger *zap.Logger

	published metric.Int64Counter
	dropped   metric.Int64Counter
	active    metric.Int64UpDownCounter
}

type subscriber struct {
	ch chan entity.Order
}

var _ Relay = (*Hub)(nil)

// NewHub builds a Hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger.Named("relay"),
	}

	var err error
	if h.published, err = relayMeter.Int64Counter("relay.events.published",
		metric.WithDescription("Submitted orders published to the relay")); err != nil {
		h.logger.Warn("relay metric unavailable", zap.Error(err))
	}
	if h.dropped, err = relayMeter.Int64Counter("relay.events.dropped",
		metric.WithDescription("Events dropped for subscribers with a full buffer")); err != nil {
		h.logger.Warn("relay metric unavailable", zap.Error(err))
	}
	if h.active, err = relayMeter.Int64UpDownCounter("relay.subscribers",
		metric.WithDescription("Currently attached subscribers")); err != nil {
		h.logger.Warn("relay metric unavailable", zap.Error(err))
	}
	return h
}

// Publish delivers order to every subscriber attached at call time.
func (h *Hub) Publish(ctx context.Context, order entity.Order) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	add(ctx, h.published, 1)

	for sub := range h.subs {
		select {
		case sub.ch <- order.Clone():
		default:
			add(ctx, h.dropped, 1)
			h.logger.Warn("subscriber buffer full; dropping event",
				zap.String("order_number", order.OrderNumber),
				zap.Int("buffer", h.buffer),
			)
		}
	}
}

// Subscribe attaches a new subscriber. The returned channel is closed once
// ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context) <-chan entity.Order {
	sub := &subscriber{ch: make(chan entity.Order, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	addUpDown(ctx, h.active, 1)
	h.logger.Debug("subscriber attached")

	go func() {
		<-ctx.Done()
		h.remove(sub)
	}()
	return sub.ch
}

// Subscribers reports how many subscribers are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches and closes every subscriber; later Publish calls are
// ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
		addUpDown(context.Background(), h.active, -1)
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	addUpDown(context.Background(), h.active, -1)
	h.logger.Debug("subscriber detached")
}

func add(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}

func addUpDown(ctx context.Context, c metric.Int64UpDownCounter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}
