package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastRetry() Option {
	return WithRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

func TestRoutePrefix(t *testing.T) {
	require.Equal(t, "/user/alice", RoutePrefix("/", "alice", ""))
	require.Equal(t, "/hub-base/user/alice/lab", RoutePrefix("/hub-base/", "alice", "lab"))
	require.Equal(t, "/", HubPrefix(""))
	require.Equal(t, "/base/", HubPrefix("/base"))
}

func TestAddRoute_Idempotent(t *testing.T) {
	b := NewMemoryBackend()
	s := NewSynchronizer(b, fastRetry())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.AddRoute(ctx, "/user/alice", "http://10.0.0.1:8888", map[string]any{DataUser: "alice"}))
	}
	routes, err := s.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.True(t, routes["/user/alice"].Managed())
	require.Equal(t, "alice", routes["/user/alice"].Data[DataUser])

	require.NoError(t, s.DeleteRoute(ctx, "/user/alice"))
	require.NoError(t, s.DeleteRoute(ctx, "/user/alice"))
	routes, err = s.Routes(ctx)
	require.NoError(t, err)
	require.Empty(t, routes)
}

func TestClampDelay(t *testing.T) {
	max := 5 * time.Second
	require.Equal(t, time.Second, clampDelay(time.Second, max))
	require.Equal(t, max, clampDelay(time.Duration(math.MaxInt64), max))
	require.Equal(t, max, clampDelay(-1, max))
}

func TestBackOff_NeverExceedsMax(t *testing.T) {
	c := RetryConfig{MaxAttempts: 64, InitialDelay: time.Second, MaxDelay: 3 * time.Second}
	bo := c.newBackOff()
	n := 0
	for {
		d := bo.NextBackOff()
		if d < 0 {
			break
		}
		n++
		require.LessOrEqual(t, d, c.MaxDelay)
		require.Positive(t, d)
	}
	require.Equal(t, 63, n)
}

func TestRetry_RecoversWithinBounds(t *testing.T) {
	b := NewMemoryBackend()
	b.SetDown(true)

	var mu sync.Mutex
	var delays []time.Duration
	cfg := RetryConfig{MaxAttempts: 50, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	s := NewSynchronizer(b, WithRetry(cfg), WithRetryHook(func(_ string, _ error, d time.Duration) {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
	}))

	go func() {
		time.Sleep(300 * time.Millisecond)
		b.SetDown(false)
	}()

	require.NoError(t, s.AddRoute(context.Background(), "/user/bob", "http://127.0.0.1:9000", nil))
	require.True(t, s.Ready())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, delays)
	for _, d := range delays {
		require.LessOrEqual(t, d, cfg.MaxDelay)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	b := NewMemoryBackend()
	b.SetDown(true)
	s := NewSynchronizer(b, fastRetry())

	err := s.AddRoute(context.Background(), "/user/x", "http://x", nil)
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 5, b.Calls("add"))
	require.False(t, s.Ready())
}

func TestRetry_RejectedIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad route", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSynchronizer(NewRESTBackend(srv.URL, "secret", time.Second), fastRetry())
	err := s.AddRoute(context.Background(), "/user/x", "http://x", nil)
	require.ErrorIs(t, err, ErrRejected)
	require.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	b := NewMemoryBackend()
	b.SetDown(true)
	s := NewSynchronizer(b, WithRetry(RetryConfig{MaxAttempts: 1000, InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.AddRoute(ctx, "/user/x", "http://x", nil)
	require.Error(t, err)
	require.Less(t, b.Calls("add"), 1000)
}

func TestRESTBackend(t *testing.T) {
	var mu sync.Mutex
	table := map[string]map[string]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		prefix := r.URL.Path[len("/api/routes"):]
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(table)
		case http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			body["last_activity"] = "2026-01-01T00:00:00Z"
			table[prefix] = body
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			if _, ok := table[prefix]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(table, prefix)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	b := NewRESTBackend(srv.URL, "secret", time.Second)
	require.NoError(t, b.AddRoute(ctx, "/user/alice", "http://10.0.0.2:8888", map[string]any{DataHub: true, DataUser: "alice"}))

	routes, err := b.GetRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	r := routes["/user/alice"]
	require.Equal(t, "http://10.0.0.2:8888", r.Target)
	require.True(t, r.Managed())
	require.NotContains(t, r.Data, "last_activity")

	require.NoError(t, b.DeleteRoute(ctx, "/user/alice"))
	require.NoError(t, b.DeleteRoute(ctx, "/user/alice"))

	bad := NewRESTBackend(srv.URL, "wrong", time.Second)
	_, err = bad.GetRoutes(ctx)
	require.ErrorIs(t, err, ErrRejected)
}

func TestRESTBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRESTBackend(url, "", 200*time.Millisecond).GetRoutes(context.Background())
	require.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
}

func TestCheckRoutes(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	// estado inicial del proxy
	require.NoError(t, b.AddRoute(ctx, "/user/stale", "http://old", map[string]any{DataHub: true}))
	require.NoError(t, b.AddRoute(ctx, "/user/moved", "http://wrong", map[string]any{DataHub: true}))
	require.NoError(t, b.AddRoute(ctx, "/external", "http://other-app", nil))

	s := NewSynchronizer(b, fastRetry())
	desired := map[string]Route{
		"/user/moved": {Prefix: "/user/moved", Target: "http://right"},
		"/user/new":   {Prefix: "/user/new", Target: "http://new"},
	}

	rep, err := s.CheckRoutes(ctx, desired)
	require.NoError(t, err)
	require.Equal(t, []string{"/user/new"}, rep.Added)
	require.Equal(t, []string{"/user/moved"}, rep.Updated)
	require.Equal(t, []string{"/user/stale"}, rep.Removed)

	routes, err := s.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 3)
	require.Equal(t, "http://right", routes["/user/moved"].Target)
	require.Contains(t, routes, "/external")

	rep, err = s.CheckRoutes(ctx, desired)
	require.NoError(t, err)
	require.False(t, rep.Changed())
}

func TestWaitReachable(t *testing.T) {
	b := NewMemoryBackend()
	b.SetDown(true)
	s := NewSynchronizer(b, fastRetry())

	go func() {
		time.Sleep(30 * time.Millisecond)
		b.SetDown(false)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReachable(ctx))
	select {
	case <-s.ReadyC():
	default:
		t.Fatal("ready channel not closed")
	}
}
