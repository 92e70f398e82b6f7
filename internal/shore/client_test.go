package shore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// setupShore starts miniredis with a vehicle-side RedisLink on "shore" and
// a shore Client for the same link.
func setupShore(t *testing.T) (*Client, *comms.RedisLink) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	link, err := comms.NewRedisLink(context.Background(), &redis.Options{Addr: mr.Addr()}, "mako", "shore")
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	client, err := NewClient(context.Background(), &redis.Options{Addr: mr.Addr()}, "mako", "shore")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, link
}

type fieldMap map[string]comms.Value

func (m fieldMap) Set(field string, v comms.Value) { m[field] = v }

func TestNewClient(t *testing.T) {
	t.Run("requires names", func(t *testing.T) {
		_, err := NewClient(context.Background(), &redis.Options{Addr: "localhost:6379"}, "", "shore")
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.NewMiniRedis()
		require.NoError(t, mr.Start())
		addr := mr.Addr()
		mr.Close()

		_, err := NewClient(context.Background(), &redis.Options{Addr: addr}, "mako", "shore")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to redis")
	})
}

func TestClient_Snapshot(t *testing.T) {
	client, link := setupShore(t)

	require.NoError(t, link.Send("pressure", comms.Double(1049.5)))
	require.NoError(t, link.Send("heartbeat", comms.Int(7)))
	require.NoError(t, client.rdb.HSet(context.Background(), comms.MirrorKey("mako", "shore"), "junk", "not a line").Err())

	fields, err := client.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, fields, 3)

	assert.Equal(t, "heartbeat", fields[0].Name)
	assert.Equal(t, "Int", fields[0].Kind)
	assert.Equal(t, 7, fields[0].Value)

	assert.Equal(t, "junk", fields[1].Name)
	assert.NotEmpty(t, fields[1].Error)
	assert.Equal(t, "not a line", fields[1].Raw)

	assert.Equal(t, "pressure", fields[2].Name)
	assert.Equal(t, 1049.5, fields[2].Value)
}

func TestClient_Get(t *testing.T) {
	client, link := setupShore(t)
	require.NoError(t, link.Send("state", comms.String("surfacing")))

	f, err := client.Get(context.Background(), "state")
	require.NoError(t, err)
	assert.Equal(t, "surfacing", f.Value)
	assert.Equal(t, "~~state~s~surfacing", f.Raw)

	_, err = client.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "field 'missing' not found on mako/shore", err.Error())
}

func TestClient_Watch(t *testing.T) {
	client, link := setupShore(t)
	channel := comms.TelemetryChannel("mako", "shore")

	errStop := errors.New("stop")
	got := make(chan Field, 4)
	done := make(chan error, 1)
	go func() {
		n := 0
		done <- client.Watch(context.Background(), func(f Field) error {
			got <- f
			n++
			if n == 2 {
				return errStop
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		subs, err := client.rdb.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && subs[channel] == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, link.Send("heartbeat", comms.Int(1)))
	require.NoError(t, link.Send("pressure", comms.Double(1050)))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errStop)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}

	first := <-got
	assert.Equal(t, "heartbeat", first.Name)
	assert.Equal(t, 1, first.Value)
	assert.False(t, first.ReceivedAt.IsZero())
	second := <-got
	assert.Equal(t, "pressure", second.Name)
}

func TestClient_WatchStopsOnCancel(t *testing.T) {
	client, _ := setupShore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, client.Watch(ctx, func(Field) error { return nil }))
}

func TestClient_Send(t *testing.T) {
	client, link := setupShore(t)

	require.NoError(t, client.Send(context.Background(), "cmdline", comms.String("start")))

	received := fieldMap{}
	require.Eventually(t, func() bool {
		if err := link.Receive(received); err != nil {
			return false
		}
		_, ok := received["cmdline"]
		return ok
	}, time.Second, 5*time.Millisecond)

	line, err := comms.Extract[string](received["cmdline"])
	require.NoError(t, err)
	assert.Equal(t, "start", line)

	t.Run("nobody listening", func(t *testing.T) {
		other, err := NewClient(context.Background(), &redis.Options{Addr: client.rdb.Options().Addr}, "mako", "nowhere")
		require.NoError(t, err)
		defer other.Close()

		err = other.Send(context.Background(), "cmdline", comms.String("start"))
		assert.ErrorIs(t, err, ErrNoVehicle)
	})

	t.Run("unframeable value is not published", func(t *testing.T) {
		err := client.Send(context.Background(), "cmdline", comms.String("start\n~~ESTOP~b~true"))
		assert.ErrorIs(t, err, comms.ErrUnencodable)
	})

	t.Run("unencodable value", func(t *testing.T) {
		err := client.Send(context.Background(), "blob", comms.Other(struct{}{}))
		assert.ErrorIs(t, err, comms.ErrUnsupportedKind)
	})
}
