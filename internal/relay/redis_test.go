package relay_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/entity"
	"github.com/Additional-Code/ordergate/internal/relay"
)

const channel = "ordergate:test"

func startRedisRelay(t *testing.T, addr string) *relay.RedisRelay {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	r := relay.NewRedisRelay(client, channel, relay.NewHub(4, zap.NewNop()), zap.NewNop())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		_ = r.Stop(context.Background())
		_ = client.Close()
	})
	return r
}

func TestRedisRelayAcrossInstances(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	first := startRedisRelay(t, server.Addr())
	second := startRedisRelay(t, server.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	local := first.Subscribe(ctx)
	remote := second.Subscribe(ctx)

	o := order("ABC123")
	o.ApplicationForm = &entity.File{ID: "file-1"}
	first.Publish(ctx, o)

	got := receive(t, local)
	assert.Equal(t, "ABC123", got.OrderNumber)
	assert.Equal(t, entity.OrderStateSubmitted, got.State)
	assert.Equal(t, "file-1", got.ApplicationForm.ID)

	assert.Equal(t, "ABC123", receive(t, remote).OrderNumber)
	assertQuiet(t, local)
	assertQuiet(t, remote)
}

func TestRedisRelayFallsBackToLocal(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	r := startRedisRelay(t, server.Addr())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := r.Subscribe(ctx)

	server.Close()
	r.Publish(ctx, order("offline"))

	assert.Equal(t, "offline", receive(t, ch).OrderNumber)
}
