package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowLimits caps submissions per provider across all processes.
type WindowLimits struct {
	PerSecond int
	PerMinute int
	PerDay    int
}

// WindowLimiter is a cross-process rate limiter on Redis. Counters live in
// per-second, per-minute, and per-day buckets and are checked and
// incremented in one Lua script, so concurrent runners cannot slip past a
// limit between the check and the increment.
type WindowLimiter struct {
	client *redis.Client
	script *redis.Script
	limits WindowLimits
}

const windowLimitScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dayKey = KEYS[3]
local n = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dayLimit = tonumber(ARGV[4])

local sec = tonumber(redis.call("GET", secondKey) or "0")
local min = tonumber(redis.call("GET", minuteKey) or "0")
local day = tonumber(redis.call("GET", dayKey) or "0")

if secondLimit > 0 and sec + n > secondLimit then
    return {0, 1}
end
if minuteLimit > 0 and min + n > minuteLimit then
    return {0, 2}
end
if dayLimit > 0 and day + n > dayLimit then
    return {0, 3}
end

local newSec = redis.call("INCRBY", secondKey, n)
if newSec == n then
    redis.call("EXPIRE", secondKey, 2)
end
local newMin = redis.call("INCRBY", minuteKey, n)
if newMin == n then
    redis.call("EXPIRE", minuteKey, 120)
end
local newDay = redis.call("INCRBY", dayKey, n)
if newDay == n then
    redis.call("EXPIRE", dayKey, 90000)
end

return {1, 0}
`

// NewWindowLimiter creates a limiter for one provider's quota.
func NewWindowLimiter(client *redis.Client, limits WindowLimits) *WindowLimiter {
	return &WindowLimiter{
		client: client,
		script: redis.NewScript(windowLimitScript),
		limits: limits,
	}
}

// Allow atomically claims n submissions for the provider. When denied it
// returns how long to wait before the relevant window rolls over.
func (l *WindowLimiter) Allow(ctx context.Context, provider string, n int) (bool, time.Duration, error) {
	now := time.Now()
	keys := []string{
		fmt.Sprintf("sendlimit:%s:sec:%d", provider, now.Unix()),
		fmt.Sprintf("sendlimit:%s:min:%d", provider, now.Unix()/60),
		fmt.Sprintf("sendlimit:%s:day:%s", provider, now.Format("2006-01-02")),
	}

	result, err := l.script.Run(ctx, l.client, keys,
		n, l.limits.PerSecond, l.limits.PerMinute, l.limits.PerDay).Slice()
	if err != nil {
		// Redis being down must not stall the send; the in-process pacer
		// still holds the rate.
		log.Printf("[WindowLimiter] check failed, allowing: %v", err)
		return true, 0, nil
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	var wait time.Duration
	switch result[1].(int64) {
	case 1:
		wait = time.Second
	case 2:
		wait = time.Duration(60-now.Second()) * time.Second
	case 3:
		wait = time.Until(now.AddDate(0, 0, 1).Truncate(24 * time.Hour))
	}
	return false, wait, nil
}
