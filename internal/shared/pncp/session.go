package pncp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginFunc 登录平台，返回token
type LoginFunc func(ctx context.Context) (string, error)

// TokenCache 跨实例共享token的缓存
type TokenCache interface {
	Get(ctx context.Context) (token string, expiresAt time.Time, ok bool)
	Set(ctx context.Context, token string, expiresAt time.Time) error
	Clear(ctx context.Context) error
}

// Session 进程内共享的平台登录会话
// 使用双重检查锁定：读锁命中直接返回；过期时写锁内只有一个goroutine去登录，其余等锁后读新token
type Session struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	ttl       time.Duration
	login     LoginFunc
	cache     TokenCache
	now       func() time.Time
}

// NewSession ttl为token有效期（平台1小时，默认提前5分钟刷新）
func NewSession(login LoginFunc, ttl time.Duration, cache TokenCache) *Session {
	if ttl <= 0 {
		ttl = 55 * time.Minute
	}
	return &Session{login: login, ttl: ttl, cache: cache, now: time.Now}
}

// SetClock 测试用
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

// Token 获取有效token，必要时刷新
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.validLocked() {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// 双重检查：其他goroutine可能已经刷新
	if s.validLocked() {
		return s.token, nil
	}

	if s.cache != nil {
		if token, exp, ok := s.cache.Get(ctx); ok && token != "" && s.now().Before(exp) {
			s.token, s.expiresAt = token, exp
			return token, nil
		}
	}

	token, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("pncp login returned an empty token")
	}
	s.token = token
	s.expiresAt = s.now().Add(s.ttl)
	if s.cache != nil {
		_ = s.cache.Set(ctx, token, s.expiresAt)
	}
	return token, nil
}

// Refresh 强制重新登录
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.Invalidate(ctx)
	return s.Token(ctx)
}

// Invalidate 平台返回401时丢弃当前token
func (s *Session) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	if s.cache != nil {
		_ = s.cache.Clear(ctx)
	}
}

// ExpiresAt 当前token过期时间
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func (s *Session) validLocked() bool {
	return s.token != "" && s.now().Before(s.expiresAt)
}

// RedisTokenCache 多副本部署时共享token
type RedisTokenCache struct {
	rdb *redis.Client
	key string
}

// NewRedisTokenCache key按登录账号区分
func NewRedisTokenCache(rdb *redis.Client, login string) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb, key: "pncp:token:" + login}
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, time.Time, bool) {
	token, err := c.rdb.Get(ctx, c.key).Result()
	if err != nil || token == "" {
		return "", time.Time{}, false
	}
	ttl, err := c.rdb.TTL(ctx, c.key).Result()
	if err != nil || ttl <= 0 {
		return "", time.Time{}, false
	}
	return token, time.Now().Add(ttl), true
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, c.key, token, ttl).Err()
}

func (c *RedisTokenCache) Clear(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
