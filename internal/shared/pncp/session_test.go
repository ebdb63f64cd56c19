package pncp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSessionSingleFlightRefresh(t *testing.T) {
	var logins int32
	release := make(chan struct{})
	s := NewSession(func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&logins, 1)
		<-release
		return fmt.Sprintf("token-%d", n), nil
	}, time.Hour, nil)

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.Token(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&logins); got != 1 {
		t.Fatalf("expected exactly one login, got %d", got)
	}
	for i := range tokens {
		if errs[i] != nil || tokens[i] != "token-1" {
			t.Fatalf("caller %d got %q, %v", i, tokens[i], errs[i])
		}
	}
}

func TestSessionRefreshesAfterExpiry(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	var logins int
	s := NewSession(func(ctx context.Context) (string, error) {
		logins++
		return fmt.Sprintf("token-%d", logins), nil
	}, 55*time.Minute, nil)
	s.SetClock(func() time.Time { return now })

	first, _ := s.Token(context.Background())
	now = now.Add(30 * time.Minute)
	again, _ := s.Token(context.Background())
	if first != again || logins != 1 {
		t.Fatalf("token should be reused before expiry: %s %s (%d logins)", first, again, logins)
	}

	now = now.Add(30 * time.Minute)
	refreshed, _ := s.Token(context.Background())
	if refreshed != "token-2" || logins != 2 {
		t.Fatalf("expected refresh after expiry, got %s (%d logins)", refreshed, logins)
	}
}

func TestSessionLoginError(t *testing.T) {
	s := NewSession(func(ctx context.Context) (string, error) {
		return "", errors.New("invalid credentials")
	}, time.Hour, nil)
	if _, err := s.Token(context.Background()); err == nil {
		t.Fatalf("expected login error")
	}
	if !s.ExpiresAt().IsZero() {
		t.Fatalf("failed login must not store an expiry")
	}
}

type memCache struct {
	token string
	exp   time.Time
	sets  int
}

func (c *memCache) Get(ctx context.Context) (string, time.Time, bool) {
	return c.token, c.exp, c.token != ""
}

func (c *memCache) Set(ctx context.Context, token string, exp time.Time) error {
	c.token, c.exp = token, exp
	c.sets++
	return nil
}

func (c *memCache) Clear(ctx context.Context) error {
	c.token = ""
	return nil
}

func TestSessionUsesSharedCache(t *testing.T) {
	cache := &memCache{token: "shared", exp: time.Now().Add(time.Hour)}
	s := NewSession(func(ctx context.Context) (string, error) {
		t.Fatalf("login must not be called when the cache holds a valid token")
		return "", nil
	}, time.Hour, cache)

	token, err := s.Token(context.Background())
	if err != nil || token != "shared" {
		t.Fatalf("expected cached token, got %q, %v", token, err)
	}

	s.Invalidate(context.Background())
	if cache.token != "" {
		t.Fatalf("invalidate must clear the shared cache")
	}
}
