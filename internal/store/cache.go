package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/bustrack/internal/models"
)

const latestKeyPrefix = "bustrack:latest:"

// LatestCache holds the newest report per bus.
type LatestCache interface {
	Get(ctx context.Context, busID uint) (models.Location, bool, error)
	Set(ctx context.Context, loc models.Location) error
	Delete(ctx context.Context, busID uint) error
}

// RedisLatestCache stores each bus's latest report as JSON under one key.
type RedisLatestCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisLatestCache(client *redis.Client, ttl time.Duration) *RedisLatestCache {
	return &RedisLatestCache{Client: client, TTL: ttl}
}

func latestKey(busID uint) string {
	return latestKeyPrefix + strconv.FormatUint(uint64(busID), 10)
}

func (c *RedisLatestCache) Get(ctx context.Context, busID uint) (models.Location, bool, error) {
	raw, err := c.Client.Get(ctx, latestKey(busID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Location{}, false, nil
		}
		return models.Location{}, false, err
	}
	// value is "<unix micros>|<json>"
	i := bytes.IndexByte(raw, '|')
	if i < 0 {
		return models.Location{}, false, errors.New("malformed latest cache entry")
	}
	var loc models.Location
	if err := json.Unmarshal(raw[i+1:], &loc); err != nil {
		return models.Location{}, false, err
	}
	return loc, true, nil
}

// Set only moves the cached value forward in time. The compare runs in a Lua
// script so concurrent appends cannot regress the key.
func (c *RedisLatestCache) Set(ctx context.Context, loc models.Location) error {
	raw, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(loc.CreatedAt.UnixMicro(), 10)
	return setIfNewer.Run(ctx, c.Client, []string{latestKey(loc.BusID)}, ts, ts+"|"+string(raw), c.TTL.Milliseconds()).Err()
}

func (c *RedisLatestCache) Delete(ctx context.Context, busID uint) error {
	return c.Client.Del(ctx, latestKey(busID)).Err()
}

var setIfNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
  local ts = tonumber(string.match(cur, "^(%d+)|"))
  if ts and ts > tonumber(ARGV[1]) then
    return 0
  end
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// CachedLocationStore writes through to a LatestCache after every successful
// append and serves Latest from the cache when it can. A bus whose last write
// did not reach the cache is read from the store until a Set succeeds again.
type CachedLocationStore struct {
	LocationStore
	Cache LatestCache

	stale sync.Map // busID -> *int, a fresh mark per failed write
}

func NewCachedLocationStore(inner LocationStore, cache LatestCache) *CachedLocationStore {
	return &CachedLocationStore{LocationStore: inner, Cache: cache}
}

func (s *CachedLocationStore) Append(ctx context.Context, busID uint, latitude, longitude, speed float64) (models.Location, error) {
	loc, err := s.LocationStore.Append(ctx, busID, latitude, longitude, speed)
	if err != nil {
		return loc, err
	}
	if err := s.Cache.Set(ctx, loc); err != nil {
		log.Warn().Err(err).Uint("bus_id", busID).Msg("latest cache set failed")
		s.invalidate(ctx, busID)
		return loc, nil
	}
	s.stale.Delete(busID)
	return loc, nil
}

// invalidate drops the cached entry so an older report is never served after
// a newer one committed. The mark outlives a failed DEL.
func (s *CachedLocationStore) invalidate(ctx context.Context, busID uint) {
	s.stale.Store(busID, new(int))
	if err := s.Cache.Delete(ctx, busID); err != nil {
		log.Warn().Err(err).Uint("bus_id", busID).Msg("latest cache delete failed")
	}
}

func (s *CachedLocationStore) Latest(ctx context.Context, busID uint) (models.Location, error) {
	mark, stale := s.stale.Load(busID)
	if !stale {
		if loc, ok, err := s.Cache.Get(ctx, busID); err == nil && ok {
			return loc, nil
		} else if err != nil {
			log.Warn().Err(err).Uint("bus_id", busID).Msg("latest cache get failed")
		}
	}
	loc, err := s.LocationStore.Latest(ctx, busID)
	if err != nil {
		return loc, err
	}
	if err := s.Cache.Set(ctx, loc); err != nil {
		log.Warn().Err(err).Uint("bus_id", busID).Msg("latest cache backfill failed")
		return loc, nil
	}
	if stale {
		// a write that failed while we read keeps its own mark
		s.stale.CompareAndDelete(busID, mark)
	}
	return loc, nil
}
