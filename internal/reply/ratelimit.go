package reply

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/assistext/assistext/internal/tenancy"
)

const (
	messageWindow = 5 * time.Minute
	aiWindow      = 24 * time.Hour
	// keys outlive their window a little so a late INCR never resets a count.
	keySlack = time.Minute
)

// Limit reasons reported by Decision.
const (
	LimitFiveMinuteMessages = "five_minute_messages"
	LimitDailyAIReplies     = "daily_ai_replies"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed bool
	Reason  string
	Count   int64
	Limit   int
}

// Limiter gates AI replies per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenantID uuid.UUID, limits tenancy.Limits) (Decision, error)
}

// RedisLimiter keeps fixed-window counters in Redis. Each counter is bumped
// with INCR and EXPIRE in a single MULTI so concurrent workers share one count.
type RedisLimiter struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	if client == nil {
		panic("reply: redis client cannot be nil")
	}
	return &RedisLimiter{redis: client, now: time.Now}
}

// Allow counts the message against the five-minute window first; only when
// that passes is the daily AI reply counter consumed.
func (l *RedisLimiter) Allow(ctx context.Context, tenantID uuid.UUID, limits tenancy.Limits) (Decision, error) {
	now := l.now().UTC()

	msgKey := fmt.Sprintf("ratelimit:%s:msg:%d", tenantID, now.Truncate(messageWindow).Unix())
	count, err := l.incr(ctx, msgKey, messageWindow)
	if err != nil {
		return Decision{}, err
	}
	if limits.FiveMinuteMessages > 0 && count > int64(limits.FiveMinuteMessages) {
		return Decision{Allowed: false, Reason: LimitFiveMinuteMessages, Count: count, Limit: limits.FiveMinuteMessages}, nil
	}

	aiKey := fmt.Sprintf("ratelimit:%s:ai:%s", tenantID, now.Format("20060102"))
	count, err = l.incr(ctx, aiKey, aiWindow)
	if err != nil {
		return Decision{}, err
	}
	if limits.DailyAIReplies > 0 && count > int64(limits.DailyAIReplies) {
		return Decision{Allowed: false, Reason: LimitDailyAIReplies, Count: count, Limit: limits.DailyAIReplies}, nil
	}
	return Decision{Allowed: true, Count: count, Limit: limits.DailyAIReplies}, nil
}

func (l *RedisLimiter) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window+keySlack)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reply: rate limit incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// NoLimit allows every call. Used by local tooling without Redis.
type NoLimit struct{}

func (NoLimit) Allow(context.Context, uuid.UUID, tenancy.Limits) (Decision, error) {
	return Decision{Allowed: true}, nil
}
