package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/entity"
)

// RedisRelay shares submissions between gateway instances over a redis
// channel. Publishes go to redis; every instance, the publisher included,
// feeds what it receives into its local Hub.
//
// Delivery is asynchronous: Publish returns once redis accepts the message,
// before the local Hub has fanned it out. A subscriber that attaches in that
// window may still receive the event. The in-process Hub has no such window.
type RedisRelay struct {
	hub     *Hub
	client  *goredis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	pubsub *goredis.PubSub
	done   chan struct{}
}

var _ Relay = (*RedisRelay)(nil)

// NewRedisRelay wraps hub with a redis bridge on channel.
func NewRedisRelay(client *goredis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		hub:     hub,
		client:  client,
		channel: channel,
		logger:  logger.Named("relay.redis"),
	}
}

// Start subscribes to the redis channel and begins forwarding into the hub.
// It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})

	go r.forward(pubsub.Channel(), r.done)

	r.logger.Info("redis relay subscribed", zap.String("channel", r.channel))
	return nil
}

// Stop closes the redis subscription and waits for forwarding to finish.
func (r *RedisRelay) Stop(ctx context.Context) error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Publish sends order to every instance. When redis is unreachable the
// order still reaches local subscribers.
func (r *RedisRelay) Publish(ctx context.Context, order entity.Order) {
	payload, err := json.Marshal(order)
	if err != nil {
		r.logger.Error("marshal submitted order", zap.Error(err))
		r.hub.Publish(ctx, order)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Error("redis publish failed; delivering locally",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
		r.hub.Publish(ctx, order)
	}
}

// Subscribe attaches a local subscriber.
func (r *RedisRelay) Subscribe(ctx context.Context) <-chan entity.Order {
	return r.hub.Subscribe(ctx)
}

func (r *RedisRelay) forward(messages <-chan *goredis.Message, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		var order entity.Order
		if err := json.Unmarshal([]byte(msg.Payload), &order); err != nil {
			r.logger.Warn("discarding malformed relay message", zap.Error(err))
			continue
		}
		r.hub.Publish(context.Background(), order)
	}
}
