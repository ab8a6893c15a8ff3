// Package infra implements infrastructure concerns (shared store,
// encrypted device database, hosts file, backups, desktop sampling).
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geb16/prodtracker/internal/domain"
)

// admitScript runs the replay check and token bucket in one atomic step
// server-side, so concurrent service instances never interleave a
// read-modify-write on the same device's counters.
//
// KEYS[1] last accepted timestamp, KEYS[2] bucket hash, KEYS[3] abuse counter
// ARGV[1] ts (unix micros), ARGV[2] now (unix micros), ARGV[3] capacity,
// ARGV[4] refill per second, ARGV[5] key TTL seconds
var admitScript = redis.NewScript(`
local ts = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local refill = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local last = tonumber(redis.call('GET', KEYS[1]) or '-1')
if ts <= last then
  redis.call('INCR', KEYS[3])
  return 'replay'
end

local tokens = cap
local refilled = now
local b = redis.call('HMGET', KEYS[2], 'tokens', 'refilled_at')
if b[1] then
  tokens = tonumber(b[1])
  refilled = tonumber(b[2])
  local elapsed = (now - refilled) / 1000000
  if elapsed > 0 then
    tokens = math.min(cap, tokens + elapsed * refill)
  end
end

if tokens < 1 then
  redis.call('INCR', KEYS[3])
  redis.call('HSET', KEYS[2], 'tokens', tokens, 'refilled_at', now)
  redis.call('EXPIRE', KEYS[2], ttl)
  return 'limited'
end

redis.call('HSET', KEYS[2], 'tokens', tokens - 1, 'refilled_at', now)
redis.call('EXPIRE', KEYS[2], ttl)
redis.call('SET', KEYS[1], ts, 'EX', ttl)
return 'ok'
`)

// RedisGuardState implements domain.GuardState on a shared Redis.
type RedisGuardState struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuardState creates guard state with the given counter TTL.
func NewRedisGuardState(client *redis.Client, ttl time.Duration) *RedisGuardState {
	return &RedisGuardState{client: client, ttl: ttl}
}

// Admit runs the atomic admit script.
func (s *RedisGuardState) Admit(ctx context.Context, deviceID string, ts, now time.Time, capacity int, refillPerSec float64) (domain.AdmitDecision, error) {
	keys := []string{
		"pt:last:" + deviceID,
		"pt:bucket:" + deviceID,
		"pt:rejects:" + deviceID,
	}
	res, err := admitScript.Run(ctx, s.client, keys,
		ts.UnixMicro(), now.UnixMicro(), capacity, refillPerSec, int(s.ttl.Seconds())).Text()
	if err != nil {
		return domain.Replayed, fmt.Errorf("%w: admit script: %v", domain.ErrStoreUnavailable, err)
	}
	switch res {
	case "ok":
		return domain.Admitted, nil
	case "replay":
		return domain.Replayed, nil
	case "limited":
		return domain.RateLimited, nil
	}
	return domain.Replayed, fmt.Errorf("%w: unexpected script result %q", domain.ErrInvariant, res)
}

// RedisSampleWindow implements domain.SampleWindow as one sorted set per
// device, scored by sample time. Eviction is lazy: each write trims
// entries older than the lookback bound in the same pipeline, so a
// window never holds samples past the bound.
type RedisSampleWindow struct {
	client         *redis.Client
	lookback       time.Duration
	sampleInterval time.Duration
}

// NewRedisSampleWindow creates a window store. sampleInterval is the
// device heartbeat cadence, used to convert sample counts into seconds.
func NewRedisSampleWindow(client *redis.Client, lookback, sampleInterval time.Duration) *RedisSampleWindow {
	return &RedisSampleWindow{client: client, lookback: lookback, sampleInterval: sampleInterval}
}

func windowKey(deviceID string) string { return "pt:hb:" + deviceID }

// Record appends a fact and evicts expired entries.
func (w *RedisSampleWindow) Record(ctx context.Context, deviceID string, fact domain.SampleFact) error {
	member, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("marshal fact: %w", err)
	}

	key := windowKey(deviceID)
	cutoff := fact.Timestamp.Add(-w.lookback).Unix()

	pipe := w.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(fact.Timestamp.Unix()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
	pipe.Expire(ctx, key, 2*w.lookback)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: record sample: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Summarize aggregates the trailing minutes, clipped to the lookback.
func (w *RedisSampleWindow) Summarize(ctx context.Context, deviceID string, minutes int) (*domain.Summary, error) {
	span := time.Duration(minutes) * time.Minute
	if span > w.lookback {
		span = w.lookback
	}
	cutoff := time.Now().Add(-span).Unix()

	raw, err := w.client.ZRangeByScore(ctx, windowKey(deviceID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: load window: %v", domain.ErrStoreUnavailable, err)
	}

	summary := &domain.Summary{DeviceID: deviceID, WindowMinutes: minutes}
	for _, entry := range raw {
		var fact domain.SampleFact
		if err := json.Unmarshal([]byte(entry), &fact); err != nil {
			continue // skip undecodable leftovers rather than failing the read
		}
		switch fact.Verdict {
		case domain.VerdictSignal:
			summary.SignalSeconds += w.sampleInterval.Seconds()
		case domain.VerdictNoise:
			summary.NoiseSeconds += w.sampleInterval.Seconds()
		}
		if fact.Timestamp.After(summary.LastSeen) {
			summary.LastSeen = fact.Timestamp
		}
	}
	return summary, nil
}

var (
	_ domain.GuardState   = (*RedisGuardState)(nil)
	_ domain.SampleWindow = (*RedisSampleWindow)(nil)
)
