package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mutation scopes with separate budgets.
const (
	DepositScope  = "deposit"
	TransferScope = "transfer"
)

const (
	defaultRateLimitPrefix = "ledger:rate_limit"
	defaultRateLimitWindow = time.Minute
)

// mutationBudgetScript spends one unit of the operator's budget while any remains; rejected
// requests are not counted. ARGV: limit, window in ms.
// Returns {allowed (0|1), spent, ms until the window resets}.
var mutationBudgetScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local spent = tonumber(redis.call("GET", KEYS[1]) or "0")
local allowed = 0
if spent < limit then
  spent = redis.call("INCR", KEYS[1])
  if spent == 1 then
    redis.call("PEXPIRE", KEYS[1], window)
  end
  allowed = 1
end
local reset = redis.call("PTTL", KEYS[1])
if reset < 0 then
  reset = window
end
return {allowed, spent, reset}
`)

// RateDecision is the outcome of spending one unit of an operator's budget.
type RateDecision struct {
	Allowed    bool
	Spent      int
	Limit      int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (d RateDecision) RetryAfterSeconds() int {
	seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RateLimiter decides whether an operator may perform another mutation in scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string, operator string) (RateDecision, error)
}

// RateLimitConfig sets the per-scope budgets. Scopes without a positive limit are unlimited.
type RateLimitConfig struct {
	Prefix string
	Window time.Duration
	Limits map[string]int
}

// RedisRateLimiter keeps per-operator mutation budgets in Redis so every replica shares them.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	limits map[string]int
}

func NewRedisRateLimiter(client redis.UniversalClient, cfg RateLimitConfig) *RedisRateLimiter {
	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.Prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	window := cfg.Window
	if window < time.Second {
		window = defaultRateLimitWindow
	}
	limits := make(map[string]int, len(cfg.Limits))
	for scope, limit := range cfg.Limits {
		if limit > 0 {
			limits[strings.TrimSpace(scope)] = limit
		}
	}
	return &RedisRateLimiter{client: client, prefix: prefix, window: window, limits: limits}
}

// Allow spends one unit of the operator's budget for scope.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope string, operator string) (RateDecision, error) {
	if r == nil || r.client == nil {
		return RateDecision{Allowed: true}, nil
	}
	scope = strings.TrimSpace(scope)
	operator = strings.TrimSpace(operator)
	limit := r.limits[scope]
	if limit <= 0 || operator == "" {
		return RateDecision{Allowed: true}, nil
	}

	key := r.budgetKey(scope, operator)
	reply, err := mutationBudgetScript.Run(ctx, r.client, []string{key}, limit, r.window.Milliseconds()).Result()
	if err != nil {
		return RateDecision{}, fmt.Errorf("run mutation budget script: %w", err)
	}
	decision, err := parseBudgetReply(reply)
	if err != nil {
		return RateDecision{}, err
	}
	decision.Limit = limit
	return decision, nil
}

func (r *RedisRateLimiter) budgetKey(scope, operator string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, scope, operator)
}

func parseBudgetReply(reply interface{}) (RateDecision, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 3 {
		return RateDecision{}, fmt.Errorf("unexpected mutation budget reply: %T %v", reply, reply)
	}
	ints := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return RateDecision{}, fmt.Errorf("unexpected mutation budget field %d: %T", i, v)
		}
		ints[i] = n
	}
	if ints[2] < 0 {
		return RateDecision{}, fmt.Errorf("negative mutation budget reset: %d", ints[2])
	}
	return RateDecision{
		Allowed:    ints[0] == 1,
		Spent:      int(ints[1]),
		RetryAfter: time.Duration(ints[2]) * time.Millisecond,
	}, nil
}
