package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/messaging"
	"github.com/Additional-Code/ordergate/internal/worker"
)

func TestDispatch(t *testing.T) {
	var calls []string
	record := func(name string) messaging.Handler {
		return func(context.Context, messaging.Message) error {
			calls = append(calls, name)
			return nil
		}
	}

	engine := worker.NewEngine(worker.Params{
		Client: messaging.NewNoop("orders"),
		Logger: zap.NewNop(),
		Config: config.Config{},
		Registrations: []worker.HandlerRegistration{
			{Topic: "orders", Event: "order.submitted", Handler: record("submitted")},
			{Topic: "orders", Handler: record("fallback")},
			{Topic: "", Handler: record("ignored")},
		},
	})
	ctx := context.Background()

	require.NoError(t, engine.Dispatch(ctx, messaging.Message{
		Topic:   "orders",
		Headers: map[string]string{messaging.HeaderEvent: "order.submitted"},
	}))
	require.NoError(t, engine.Dispatch(ctx, messaging.Message{
		Topic:   "orders",
		Headers: map[string]string{messaging.HeaderEvent: "order.other"},
	}))
	require.NoError(t, engine.Dispatch(ctx, messaging.Message{Topic: "unknown"}))

	assert.Equal(t, []string{"submitted", "fallback"}, calls)
}

func TestDispatchReturnsHandlerError(t *testing.T) {
	boom := errors.New("boom")
	engine := worker.NewEngine(worker.Params{
		Client: messaging.NewNoop("orders"),
		Registrations: []worker.HandlerRegistration{{
			Topic:   "orders",
			Handler: func(context.Context, messaging.Message) error { return boom },
		}},
	})

	err := engine.Dispatch(context.Background(), messaging.Message{Topic: "orders"})
	assert.ErrorIs(t, err, boom)
}
