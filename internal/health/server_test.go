package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

type idle struct{}

func (idle) Update(*task.Task) task.Result { return task.Continued() }

// setupServer builds a health server over a manager with one running task
// and a bus with two links.
func setupServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	sup := thread.NewSupervisor()
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })

	bus := comms.New()
	require.NoError(t, bus.AddLink("pi", comms.NewLocalLink(), comms.CopyLocal))
	require.NoError(t, bus.AddLink("teensy", comms.NewLocalLink(), comms.CopyLocal))

	m := task.NewManager()
	require.True(t, m.RegisterTask(task.New("Idle", idle{}, sup, bus)))
	require.True(t, m.RegisterTask(task.New("Other", idle{}, sup, bus)))
	m.OnStart("Idle")
	m.Start()

	return NewServer("127.0.0.1:0", m, sup, bus, opts...)
}

func get(t *testing.T, s *Server) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthz_WithoutRedis(t *testing.T) {
	s := setupServer(t)

	rec, resp := get(t, s)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.TasksRunning)
	assert.Equal(t, []string{"Idle"}, resp.Running)
	assert.Equal(t, 0, resp.Threads)
	assert.Equal(t, []string{"pi", "teensy"}, resp.Links)
	assert.Empty(t, resp.Redis)
	assert.NotContains(t, rec.Body.String(), `"redis"`)
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	s := setupServer(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(method, "/healthz", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
	}
}

func TestHealthz_Redis(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	link, err := comms.NewRedisLink(context.Background(), &redis.Options{Addr: mr.Addr()}, "sub1", "shore")
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	s := setupServer(t, WithRedis(link))

	t.Run("reachable", func(t *testing.T) {
		rec, resp := get(t, s)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", resp.Redis)
	})

	t.Run("unreachable", func(t *testing.T) {
		mr.Close()

		rec, resp := get(t, s)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "unreachable", resp.Redis)
		assert.NotEmpty(t, resp.Error)
		assert.Equal(t, []string{"Idle"}, resp.Running, "task state is still reported")
	})
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return fmt.Errorf("connection refused") }

func TestServer_StartAndShutdown(t *testing.T) {
	s := setupServer(t, WithRedis(failingPinger{}))
	require.NoError(t, s.Start())

	res, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	var resp Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.Equal(t, "connection refused", resp.Error)

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestServer_StartAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(ln.Addr().String(), task.NewManager(), thread.NewSupervisor(), comms.New())
	assert.Error(t, s.Start())
	assert.Nil(t, s.Addr())
}

func TestServer_Metrics(t *testing.T) {
	t.Run("not mounted by default", func(t *testing.T) {
		s := setupServer(t)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("mounted", func(t *testing.T) {
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "robosub_tasks_running 1\n")
		})
		s := setupServer(t, WithMetrics(metrics))

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "robosub_tasks_running 1\n", rec.Body.String())
	})
}

func TestServer_WithNilLogger(t *testing.T) {
	s := setupServer(t, WithLogger(nil))

	rec, resp := get(t, s)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp.Status)
}
