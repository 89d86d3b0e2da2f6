// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. It throttles admin actions (settings saves, preview
// messages) per authenticated subject.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:save:", "rl:preview:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rate limiting rules.
var (
	// RuleSettingsSave allows 10 settings saves per minute per subject,
	// counting rejected attempts too.
	RuleSettingsSave = Rule{Key: "rl:save:", Limit: 10, Window: 1 * time.Minute}

	// RulePreview allows 20 preview messages per 10 seconds per connection.
	RulePreview = Rule{Key: "rl:preview:", Limit: 20, Window: 10 * time.Second}
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when Allowed
}

// Limiter performs rate limiting checks against Redis. A nil *Limiter allows
// everything, which is how deployments without Redis run.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one request for identifier under rule. INCR and EXPIRE NX go
// out in one pipeline, so the window starts on the first request and is not
// extended by later ones.
//
// Redis errors fail open: the request is allowed and the error returned for
// logging.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true, Remaining: rule.Limit}, nil
	}
	key := rule.Key + identifier

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rule.Window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[ratelimit] redis pipeline error key=%s: %v (failing open)", key, err)
		return Decision{Allowed: true, Remaining: rule.Limit}, err
	}

	count := int(incr.Val())
	if count > rule.Limit {
		retry := ttl.Val()
		if retry <= 0 {
			retry = rule.Window
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Remaining: rule.Limit - count}, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window without counting a request. Returns the full limit if the
// key does not exist yet or Redis is unreachable.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		log.Warnf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}

// Reset clears the identifier's counter for rule.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	if l == nil {
		return nil
	}
	return l.client.Del(ctx, rule.Key+identifier).Err()
}
