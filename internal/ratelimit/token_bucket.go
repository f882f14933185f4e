package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket is a refill rate plus a burst capacity. A zero Bucket disables limiting.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perSecond() float64 { return float64(b.RequestsPerMinute) / 60.0 }

// ttl keeps idle state around for two full refills, clamped to [30s, 1h].
func (b Bucket) ttl() time.Duration {
	const (
		floor   = 30 * time.Second
		ceiling = time.Hour
	)
	if !b.Enabled() {
		return 2 * time.Minute
	}
	refill := float64(b.BurstSize) / b.perSecond()
	d := time.Duration(math.Ceil(2*refill))*time.Second + 5*time.Second
	switch {
	case d < floor:
		return floor
	case d > ceiling:
		return ceiling
	}
	return d
}

type Decision struct {
	Allowed bool
	// Remaining is the number of whole tokens left after this call.
	Remaining  int
	RetryAfter time.Duration
}

// Scopes partition bucket state so one subject can hold several buckets.
const (
	ScopeSubmit  = "submit"
	ScopeWebhook = "webhook"
)

const DefaultKeyPrefix = "formq:rl"

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// TokenBucketLimiter keeps one token bucket per scope and subject in Redis.
// A nil client allows everything.
type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client, keyPrefix string) *TokenBucketLimiter {
	keyPrefix = strings.TrimSuffix(strings.TrimSpace(keyPrefix), ":")
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &TokenBucketLimiter{rdb: rdb, prefix: keyPrefix, now: time.Now}
}

// takeToken refills by elapsed time and takes one token when available.
// Returns {allowed, remaining, retry_ms}.
var takeToken = redis.NewScript(`
local per_ms   = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now      = tonumber(ARGV[3])

local state  = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last   = tonumber(state[2]) or now
if last > now then last = now end

tokens = math.min(capacity, tokens + (now - last) * per_ms)

local allowed, retry = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, math.floor(tokens), retry}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true, Remaining: bucket.BurstSize}, nil
	}
	perMS := bucket.perSecond() / 1000.0
	res, err := takeToken.Run(ctx, l.rdb, []string{l.key(scope, subject)},
		perMS, bucket.BurstSize, l.now().UnixMilli(), bucket.ttl().Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", scope, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit %s: unexpected reply %v", scope, res)
	}
	dec := Decision{Allowed: res[0] == 1, Remaining: int(res[1])}
	if !dec.Allowed {
		dec.RetryAfter = time.Duration(max(res[2], 1)) * time.Millisecond
	}
	return dec, nil
}

// key hashes the subject so bearer tokens never land in Redis verbatim.
func (l *TokenBucketLimiter) key(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(subject)))
	return l.prefix + ":" + scope + ":" + hex.EncodeToString(sum[:])
}
