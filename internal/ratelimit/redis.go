package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window counter shared through Redis, so every
// gateway instance sees the same attempt counts.
type RedisWindow struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

// NewRedisWindow returns a limiter storing counters under prefix+key.
func NewRedisWindow(client redis.Cmdable, prefix string, limit int, window time.Duration) *RedisWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix == "" {
		prefix = "mcpgate:ratelimit:"
	}
	return &RedisWindow{client: client, prefix: prefix, limit: limit, window: window}
}

// NewRedisClient parses a redis:// URL and returns a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// incrWindow bumps the counter and gives it an expiry whenever it has none,
// so a counter never outlives its window even if an earlier expiry was lost.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Allow implements Limiter. The window starts with the first hit on a key;
// the increment and the expiry run as one script.
func (r *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindow.Run(ctx, r.client, []string{r.prefix + key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	return n <= int64(r.limit), nil
}
