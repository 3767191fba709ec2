package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aryangodara/rate_limiter_engine"
)

const (
	defaultRedisPrefix = "ratelimit:"

	stateField   = "state"
	versionField = "version"
)

var (
	_ rate_limiter_engine.Store       = &Redis{}
	_ rate_limiter_engine.IdleDeleter = &Redis{}
)

// casScript performs the compare-and-swap atomically: the stored version is
// compared, the state hash rewritten and the last-access index updated in one
// round trip.
var casScript = redis.NewScript(`
local version = redis.call("HGET", KEYS[1], "version")
if version == false then
	version = "0"
end
if version ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "state", ARGV[2], "version", ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[6])
return 1
`)

// deleteIdleScript re-checks idleness against the last-access index before
// deleting, so the eviction sweep cannot remove a key that a concurrent
// request just refreshed.
var deleteIdleScript = redis.NewScript(`
local score = redis.call("ZSCORE", KEYS[2], ARGV[1])
if score == false then
	return 0
end
if tonumber(score) >= tonumber(ARGV[2]) then
	return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// Redis is a Store backed by a shared Redis instance, for enforcing one
// budget per key across multiple application replicas. State is a JSON
// encoded hash value next to a version counter; last access times live in a
// sorted set so ScanIdle works; state keys additionally carry a Redis TTL as
// a backstop against index drift.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix (default "ratelimit:").
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithTTL sets the backstop expiration applied to state keys on every write.
// Zero disables it.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// NewRedis creates a Redis-backed store on top of an existing client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) stateKey(key string) string {
	return r.prefix + "state:" + key
}

func (r *Redis) idleIndexKey() string {
	return r.prefix + "idle"
}

// Load returns the entry for key. The entry's LastAccess is not populated;
// idle tracking is served by the last-access index instead.
func (r *Redis) Load(ctx context.Context, key string) (rate_limiter_engine.Entry, bool, error) {
	values, err := r.client.HMGet(ctx, r.stateKey(key), stateField, versionField).Result()
	if err != nil {
		return rate_limiter_engine.Entry{}, false, fmt.Errorf("failed to load state for key %v: %w", key, err)
	}

	raw, ok := values[0].(string)
	if !ok {
		return rate_limiter_engine.Entry{}, false, nil
	}

	var state rate_limiter_engine.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return rate_limiter_engine.Entry{}, false, fmt.Errorf("failed to decode state for key %v: %w", key, err)
	}

	var version uint64
	if rawVersion, ok := values[1].(string); ok {
		version, err = strconv.ParseUint(rawVersion, 10, 64)
		if err != nil {
			return rate_limiter_engine.Entry{}, false, fmt.Errorf("failed to parse version for key %v: %w", key, err)
		}
	}

	return rate_limiter_engine.Entry{State: state, Version: version}, true, nil
}

// CompareAndSwap writes state if the stored version still equals oldVersion,
// as a single atomic script evaluation.
func (r *Redis) CompareAndSwap(ctx context.Context, key string, oldVersion uint64, state rate_limiter_engine.State, now time.Time) (bool, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("failed to encode state for key %v: %w", key, err)
	}

	result, err := casScript.Run(ctx, r.client,
		[]string{r.stateKey(key), r.idleIndexKey()},
		strconv.FormatUint(oldVersion, 10),   // ARGV[1]: expected version
		string(encoded),                      // ARGV[2]: new state
		strconv.FormatUint(oldVersion+1, 10), // ARGV[3]: new version
		r.ttl.Milliseconds(),                 // ARGV[4]: backstop TTL
		now.UnixMicro(),                      // ARGV[5]: last access score
		key,                                  // ARGV[6]: index member
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap key %v: %w", key, err)
	}

	return result == 1, nil
}

// Delete removes the state and the last-access index entry for key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	p := r.client.Pipeline()
	p.Del(ctx, r.stateKey(key))
	p.ZRem(ctx, r.idleIndexKey(), key)
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete key %v: %w", key, err)
	}
	return nil
}

// DeleteIdle removes key only if the last-access index still reports it idle,
// re-checked atomically in the script.
func (r *Redis) DeleteIdle(ctx context.Context, key string, olderThan time.Time) (bool, error) {
	result, err := deleteIdleScript.Run(ctx, r.client,
		[]string{r.stateKey(key), r.idleIndexKey()},
		key,
		olderThan.UnixMicro(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete idle key %v: %w", key, err)
	}
	return result == 1, nil
}

// ScanIdle returns the keys whose last access is before olderThan.
func (r *Redis) ScanIdle(ctx context.Context, olderThan time.Time) ([]string, error) {
	keys, err := r.client.ZRangeByScore(ctx, r.idleIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan idle keys: %w", err)
	}
	return keys, nil
}
