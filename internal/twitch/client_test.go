package twitch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/redis"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(sink{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func testConfig() *config.TwitchConfig {
	return &config.TwitchConfig{
		ClientID:            "cid",
		StreamerAccessToken: "token",
		Channel:             "streamer",
		IDCacheTTL:          time.Hour,
		SubCacheTTL:         time.Minute,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, withCache bool) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var cache *redis.Cache
	var mr *miniredis.Miniredis
	if withCache {
		mr = miniredis.RunT(t)
		cache = redis.NewCacheWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), quietLogger())
	}

	c := NewClient(testConfig(), cache, quietLogger())
	c.SetBaseURL(srv.URL)
	return c, mr
}

func TestUserID(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Client-Id"); got != "cid" {
			t.Errorf("Client-Id = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"data":[{"id":"123","login":"alice"}]}`))
	}, false)

	id, err := c.UserID(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if id != "123" {
		t.Fatalf("id = %q, want 123", id)
	}
	if calls != 1 {
		t.Fatalf("helix calls = %d", calls)
	}
}

func TestUserIDCached(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"data":[{"id":"123","login":"alice"}]}`))
	}, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.UserID(ctx, "alice"); err != nil {
			t.Fatalf("UserID: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("helix calls = %d, want 1 with warm cache", calls)
	}
}

func TestUserIDNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}, false)

	_, err := c.UserID(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrTwitchIDNotFound) {
		t.Fatalf("err = %v, want ErrTwitchIDNotFound", err)
	}
}

func TestSubscriptionTier(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users":
			login := r.URL.Query().Get("login")
			w.Write([]byte(`{"data":[{"id":"` + login + `-id","login":"` + login + `"}]}`))
		case "/subscriptions":
			w.Write([]byte(`{"data":[{"tier":"2000"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, false)

	tier, err := c.SubscriptionTier(context.Background(), "alice")
	if err != nil {
		t.Fatalf("SubscriptionTier: %v", err)
	}
	if tier != 2 {
		t.Fatalf("tier = %d, want 2", tier)
	}
}

func TestSubscriptionTierNone(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users":
			w.Write([]byte(`{"data":[{"id":"1","login":"x"}]}`))
		default:
			w.Write([]byte(`{"data":[]}`))
		}
	}, false)

	tier, err := c.SubscriptionTier(context.Background(), "alice")
	if err != nil {
		t.Fatalf("SubscriptionTier: %v", err)
	}
	if tier != 0 {
		t.Fatalf("tier = %d, want 0", tier)
	}
}

func TestBroadcasterIDConcurrent(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":[{"id":"42","login":"streamer"}]}`))
	}, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.BroadcasterID(ctx)
			if err != nil {
				t.Errorf("BroadcasterID: %v", err)
				return
			}
			if id != "42" {
				t.Errorf("id = %q, want 42", id)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("helix calls = %d, want 1 (concurrent callers share the memoized lookup)", n)
	}
}

func TestSubscriptionTierCacheExpiry(t *testing.T) {
	var subCalls int
	c, mr := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users":
			w.Write([]byte(`{"data":[{"id":"1","login":"x"}]}`))
		case "/subscriptions":
			subCalls++
			w.Write([]byte(`{"data":[{"tier":"1000"}]}`))
		}
	}, true)
	ctx := context.Background()

	if _, err := c.SubscriptionTier(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SubscriptionTier(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if subCalls != 1 {
		t.Fatalf("sub calls = %d, want 1 within TTL", subCalls)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.SubscriptionTier(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if subCalls != 2 {
		t.Fatalf("sub calls = %d, want 2 after TTL expiry", subCalls)
	}
}
