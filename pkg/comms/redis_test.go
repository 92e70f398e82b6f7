package comms

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisLink creates a RedisLink connected to a miniredis instance
func setupRedisLink(t *testing.T) (*RedisLink, *miniredis.Miniredis, *redis.Client) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	link, err := NewRedisLink(context.Background(), &redis.Options{Addr: mr.Addr()}, "sub1", "teensy")
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	shore := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { shore.Close() })

	return link, mr, shore
}

func TestNewRedisLink(t *testing.T) {
	t.Run("connects successfully", func(t *testing.T) {
		link, _, _ := setupRedisLink(t)
		assert.NoError(t, link.Ping(context.Background()))
	})

	t.Run("rejects empty names", func(t *testing.T) {
		_, err := NewRedisLink(context.Background(), &redis.Options{Addr: "localhost:6379"}, "", "teensy")
		assert.Contains(t, err.Error(), "vehicle name cannot be empty")

		_, err = NewRedisLink(context.Background(), &redis.Options{Addr: "localhost:6379"}, "sub1", "")
		assert.Contains(t, err.Error(), "link id cannot be empty")
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.NewMiniRedis()
		require.NoError(t, mr.Start())
		addr := mr.Addr()
		mr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := NewRedisLink(ctx, &redis.Options{Addr: addr, MaxRetries: -1}, "sub1", "teensy")
		assert.ErrorIs(t, err, ErrTransportOpen)
	})
}

func TestRedisLink_SendMirrorsAndPublishes(t *testing.T) {
	link, mr, shore := setupRedisLink(t)
	ctx := context.Background()

	sub := shore.Subscribe(ctx, TelemetryChannel("sub1", "teensy"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	bus := New()
	require.NoError(t, bus.AddLink("teensy", link, CopyLocal))
	require.NoError(t, bus.Send("teensy", "cmd", KindString, "config:depth:1050"))

	assert.Equal(t, "~~cmd~s~config:depth:1050", mr.HGet(MirrorKey("sub1", "teensy"), "cmd"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "~~cmd~s~config:depth:1050", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("telemetry not published")
	}
}

func TestRedisLink_SendRejectsUnframeableString(t *testing.T) {
	link, mr, _ := setupRedisLink(t)

	err := link.Send("cmd", String("a~b"))
	assert.ErrorIs(t, err, ErrUnencodable)
	assert.False(t, mr.Exists(MirrorKey("sub1", "teensy")), "mirror untouched")
}

func TestRedisLink_ReceiveCommands(t *testing.T) {
	link, _, shore := setupRedisLink(t)
	ctx := context.Background()

	bus := New()
	require.NoError(t, bus.AddLink("teensy", link, CopyLocal))

	require.NoError(t, shore.Publish(ctx, CommandsChannel("sub1", "teensy"), "~~ESTOP~b~true").Err())
	require.NoError(t, shore.Publish(ctx, CommandsChannel("sub1", "teensy"), "not a data line").Err())

	require.Eventually(t, func() bool {
		if err := bus.Receive("teensy"); err != nil {
			return false
		}
		return bus.IsSet("teensy", "ESTOP")
	}, time.Second, 10*time.Millisecond)

	assert.True(t, Get[bool](bus, "teensy", "ESTOP"))
}

func TestRedisLink_Snapshot(t *testing.T) {
	link, mr, _ := setupRedisLink(t)
	ctx := context.Background()

	require.NoError(t, link.Send("depth", Double(2.5)))
	require.NoError(t, link.Send("thrusters", IntArray([]int{1, 2})))
	mr.HSet(MirrorKey("sub1", "teensy"), "broken", "garbage")

	snap, err := link.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, 2.5, mustExtract[float64](t, snap["depth"]))
	assert.Equal(t, []int{1, 2}, mustExtract[[]int](t, snap["thrusters"]))
}

func TestRedisLink_SendAfterServerLoss(t *testing.T) {
	link, mr, _ := setupRedisLink(t)
	mr.Close()

	err := link.Send("cmd", String("stop"))
	assert.ErrorIs(t, err, ErrTransportWrite)
}

func TestRedisLink_Close(t *testing.T) {
	link, _, _ := setupRedisLink(t)
	assert.NoError(t, link.Close())
	assert.NoError(t, link.Close())
}

func TestSchemaKeys(t *testing.T) {
	assert.Equal(t, "robosub:sub1:link:teensy", MirrorKey("sub1", "teensy"))
	assert.Equal(t, "robosub:sub1:link:teensy:telemetry", TelemetryChannel("sub1", "teensy"))
	assert.Equal(t, "robosub:sub1:link:teensy:commands", CommandsChannel("sub1", "teensy"))
}
