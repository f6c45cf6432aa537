package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// AttemptLimiter 固定窗口内按 key 统计失败次数
type AttemptLimiter struct {
	rdb    redis.UniversalClient
	max    int
	window time.Duration
	prefix string
	sf     singleflight.Group
}

func NewAttemptLimiter(rdb redis.UniversalClient, max int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{rdb: rdb, max: max, window: window, prefix: "signin:fail:"}
}

func (l *AttemptLimiter) key(k string) string {
	return l.prefix + strings.ToLower(strings.TrimSpace(k))
}

// Allowed k 是否还能继续尝试
func (l *AttemptLimiter) Allowed(ctx context.Context, k string) (bool, error) {
	key := l.key(k)
	v, err, _ := l.sf.Do(key, func() (any, error) {
		n, err := l.rdb.Get(ctx, key).Int()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return n, err
	})
	if err != nil {
		return false, fmt.Errorf("read attempts: %w", err)
	}
	return v.(int) < l.max, nil
}

// Fail 记一次失败；窗口从第一次失败算起
// SET NX EX 只在首次创建 key 并带上 TTL，INCR 保留 TTL
func (l *AttemptLimiter) Fail(ctx context.Context, k string) error {
	key := l.key(k)
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, key, 0, l.window)
		p.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (l *AttemptLimiter) Reset(ctx context.Context, k string) error {
	if err := l.rdb.Del(ctx, l.key(k)).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}
