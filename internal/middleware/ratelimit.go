package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ieppc/matricula/internal/app/models/dto"
	"github.com/ieppc/matricula/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RateLimitSettings configures the token bucket
type RateLimitSettings struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// Decision is the outcome of taking one token
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter takes one token from the bucket identified by key
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// tokenBucketScript refills by whole intervals and takes one token atomically.
// Returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// RedisTokenBucket keeps one bucket per key in Redis so limits hold across replicas
type RedisTokenBucket struct {
	client   redis.Scripter
	settings RateLimitSettings
	now      func() time.Time
}

// NewRedisTokenBucket creates a Redis backed Limiter
func NewRedisTokenBucket(client redis.Scripter, settings RateLimitSettings) *RedisTokenBucket {
	return &RedisTokenBucket{client: client, settings: settings, now: time.Now}
}

// Take implements Limiter
func (b *RedisTokenBucket) Take(ctx context.Context, key string) (Decision, error) {
	args := []interface{}{
		b.now().UnixMilli(),
		b.settings.Capacity,
		b.settings.RefillTokens,
		b.settings.RefillInterval.Milliseconds(),
		int64(b.settings.TTL / time.Second),
	}
	vals, err := tokenBucketScript.Run(ctx, b.client, []string{b.settings.Prefix + ":" + key}, args...).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	return parseBucketResult(vals)
}

func parseBucketResult(vals interface{}) (Decision, error) {
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit result %#v", vals)
	}
	return Decision{
		Allowed:    asInt64(arr[0]) == 1,
		Remaining:  asInt64(arr[1]),
		RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// RateLimit limits requests per client IP and route. Limiter errors let the
// request through so a Redis outage does not take the endpoints down.
func RateLimit(limiter Limiter, capacity int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.Join([]string{"ip", c.ClientIP(), "route", c.Request.Method + " " + c.FullPath()}, ":")

		decision, err := limiter.Take(c.Request.Context(), key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(capacity))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))

		if !decision.Allowed {
			secs := int(math.Ceil(decision.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			errorDetail := dto.NewErrorDetail(dto.ErrorCodeTooManyRequests, "Demasiadas solicitudes, intente más tarde").
				WithSeverity(dto.ErrorSeverityWarning).
				WithDetails(gin.H{"retryAfter": secs})
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponse(errorDetail))
			return
		}

		c.Next()
	}
}
