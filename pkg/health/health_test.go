package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string
	Checks map[string]string
}

func decode(t *testing.T, w *httptest.ResponseRecorder) body {
	t.Helper()
	var b body
	b.Checks = map[string]string{}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			b.Status = s
			return err
		case "checks":
			return d.Obj(func(d *jx.Decoder, name string) error {
				msg, err := d.Str()
				b.Checks[name] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return b
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLive_HealthyByDefault(t *testing.T) {
	h := New()
	h.Add(Check{Name: "goroutines", Kind: Liveness, Func: GoroutineCountCheck(1 << 20)})

	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode(t, w).Status)
}

func TestLive_FailureThreshold(t *testing.T) {
	h := New()
	h.Add(Check{Name: "db", Kind: Liveness, Func: failing("connection refused")})
	p := h.probes[0]
	ctx := context.Background()

	p.observe(ctx)
	p.observe(ctx)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code, "two failures stay below threshold")

	p.observe(ctx)
	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decode(t, w)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, "connection refused", b.Checks["db"])
}

func TestLive_Recovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New()
	h.Add(Check{
		Name: "flaky", Kind: Liveness, FailureThreshold: 1, SuccessThreshold: 2,
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	})
	p := h.probes[0]
	ctx := context.Background()

	p.observe(ctx)
	require.Equal(t, http.StatusServiceUnavailable, serve(h.LiveEndpoint).Code)

	fail.Store(false)
	p.observe(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h.LiveEndpoint).Code)
	p.observe(ctx)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)
}

func TestReady_RequiresManualFlag(t *testing.T) {
	h := New()
	h.Add(Check{Name: "postgres", Kind: Readiness, Func: PingCheck(pingerFunc(func(context.Context) error { return nil }))})

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "service is not ready", decode(t, w).Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
	assert.True(t, h.IsReady())
}

func TestReady_IgnoresLivenessFailures(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Add(Check{Name: "live", Kind: Liveness, FailureThreshold: 1, Func: failing("x")})
	h.Add(Check{Name: "redis", Kind: Readiness, FailureThreshold: 1, Func: PingCheck(pingerFunc(func(context.Context) error {
		return errors.New("i/o timeout")
	}))})
	for _, p := range h.probes {
		p.observe(context.Background())
	}

	w := serve(h.ReadyEndpoint)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	b := decode(t, w)
	assert.Equal(t, map[string]string{"redis": "ping: i/o timeout"}, b.Checks)
}

func TestRun_StopsWithContext(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Add(Check{Name: "count", Kind: Liveness, Func: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
