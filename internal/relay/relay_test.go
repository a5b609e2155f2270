package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/entity"
	"github.com/Additional-Code/ordergate/internal/relay"
)

const (
	receiveTimeout = time.Second
	quietPeriod    = 50 * time.Millisecond
)

func receive(t *testing.T, ch <-chan entity.Order) entity.Order {
	t.Helper()
	select {
	case o, ok := <-ch:
		require.True(t, ok, "channel closed")
		return o
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for event")
		return entity.Order{}
	}
}

func assertQuiet(t *testing.T, ch <-chan entity.Order) {
	t.Helper()
	select {
	case o, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %q", o.OrderNumber)
		}
	case <-time.After(quietPeriod):
	}
}

func order(number string) entity.Order {
	return entity.Order{OrderNumber: number, State: entity.OrderStateSubmitted}
}

func TestFanOut(t *testing.T) {
	hub := relay.NewHub(4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)
	assert.Equal(t, 2, hub.Subscribers())

	hub.Publish(ctx, order("ABC123"))

	assert.Equal(t, "ABC123", receive(t, a).OrderNumber)
	assert.Equal(t, "ABC123", receive(t, b).OrderNumber)
	assertQuiet(t, a)
	assertQuiet(t, b)
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	hub := relay.NewHub(4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub.Publish(ctx, order("early"))
	late := hub.Subscribe(ctx)
	assertQuiet(t, late)

	hub.Publish(ctx, order("later"))
	assert.Equal(t, "later", receive(t, late).OrderNumber)
}

func TestPublishOrder(t *testing.T) {
	hub := relay.NewHub(8, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx)
	for _, n := range []string{"1", "2", "3", "4"} {
		hub.Publish(ctx, order(n))
	}
	for _, n := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, n, receive(t, ch).OrderNumber)
	}
}

func TestCancelDetaches(t *testing.T) {
	hub := relay.NewHub(4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	ch := hub.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return hub.Subscribers() == 0
	}, receiveTimeout, 5*time.Millisecond)

	hub.Publish(context.Background(), order("after"))
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFullBufferDropsForSlowSubscriberOnly(t *testing.T) {
	hub := relay.NewHub(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := hub.Subscribe(ctx)
	fast := hub.Subscribe(ctx)

	hub.Publish(ctx, order("1"))
	assert.Equal(t, "1", receive(t, fast).OrderNumber)

	hub.Publish(ctx, order("2"))
	assert.Equal(t, "2", receive(t, fast).OrderNumber)

	assert.Equal(t, "1", receive(t, slow).OrderNumber)
	assertQuiet(t, slow)
}

func TestSubscribersGetIndependentCopies(t *testing.T) {
	hub := relay.NewHub(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)
	o := order("X")
	o.ApplicationForm = &entity.File{ID: "f"}
	hub.Publish(ctx, o)

	first := receive(t, a)
	first.ApplicationForm.ID = "mutated"
	assert.Equal(t, "f", receive(t, b).ApplicationForm.ID)
}

func TestClose(t *testing.T) {
	hub := relay.NewHub(1, zap.NewNop())
	ch := hub.Subscribe(context.Background())

	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers())

	after := hub.Subscribe(context.Background())
	_, ok = <-after
	assert.False(t, ok)

	hub.Publish(context.Background(), order("ignored"))
	hub.Close()
}
