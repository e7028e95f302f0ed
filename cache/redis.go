package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
	"github.com/tabgate/tabgate/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

type redisEntry struct {
	Result   types.Result `json:"result"`
	CachedAt time.Time    `json:"cached_at"`
}

// RedisCache is the shared-store result cache backend. Expiry is delegated to
// redis key TTLs, so the LRU bound and eviction counter do not apply here;
// Stats reports the live key count under the configured prefix instead.
type RedisCache struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	config   *types.CacheConfig
	redisCfg *RedisConfig
	client   *redis.Client
	hits     uint64
	misses   uint64
	bypassed uint64
	started  int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (types.ResultCache, error) {
	redisCfg := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "tabgate",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, redisCfg); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &RedisCache{
		ctx:      cacheCtx,
		cancel:   cancel,
		logger:   logger,
		config:   config,
		redisCfg: redisCfg,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisCfg.Host, redisCfg.Port),
			Password:     redisCfg.Password,
			DB:           redisCfg.DB,
			PoolSize:     redisCfg.PoolSize,
			MinIdleConns: redisCfg.MinIdleConnections,
			DialTimeout:  redisCfg.DialTimeout,
			ReadTimeout:  redisCfg.ReadTimeout,
			WriteTimeout: redisCfg.WriteTimeout,
		}),
	}

	if err := cache.ping(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return cache, nil
}

func (r *RedisCache) enabled() bool {
	return r.config.TTLSeconds > 0
}

func (r *RedisCache) Get(key types.CacheKey) (types.Result, bool) {
	if !r.enabled() {
		atomic.AddUint64(&r.bypassed, 1)
		return nil, false
	}

	fullKey := r.buildFullKey(key)

	data, err := r.client.Get(r.ctx, fullKey).Result()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("failed to get cached result", zap.String("key", fullKey), zap.Error(err))
		}
		atomic.AddUint64(&r.misses, 1)
		return nil, false
	}

	var ent redisEntry
	if err := utils.Unmarshal([]byte(data), &ent); err != nil {
		r.logger.Error("failed to unmarshal cached result", zap.String("key", fullKey), zap.Error(err))
		r.client.Del(r.ctx, fullKey)
		atomic.AddUint64(&r.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&r.hits, 1)

	result := ent.Result.Copy()
	result["cache"] = map[string]interface{}{
		"hit":         true,
		"age_seconds": roundSeconds(time.Since(ent.CachedAt)),
	}
	return result, true
}

func (r *RedisCache) Set(key types.CacheKey, result types.Result) {
	if !r.enabled() || result == nil {
		return
	}

	stored := result.Copy()
	stored["cached"] = true

	data, err := utils.Marshal(&redisEntry{Result: stored, CachedAt: time.Now()})
	if err != nil {
		r.logger.Error("failed to marshal result for caching", zap.Error(err))
		return
	}

	fullKey := r.buildFullKey(key)
	ttl := time.Duration(r.config.TTLSeconds) * time.Second

	if err := r.client.Set(r.ctx, fullKey, data, ttl).Err(); err != nil {
		r.logger.Error("failed to set cached result", zap.String("key", fullKey), zap.Error(err))
	}
}

func (r *RedisCache) Flush() types.Result {
	cleared := 0

	iter := r.client.Scan(r.ctx, 0, r.redisCfg.KeyPrefix+":*", 0).Iterator()
	for iter.Next(r.ctx) {
		if err := r.client.Del(r.ctx, iter.Val()).Err(); err != nil {
			r.logger.Error("failed to delete cached result", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		cleared++
	}
	if err := iter.Err(); err != nil {
		r.logger.Error("failed to scan cache keys during flush", zap.Error(err))
	}

	atomic.StoreUint64(&r.hits, 0)
	atomic.StoreUint64(&r.misses, 0)
	atomic.StoreUint64(&r.bypassed, 0)

	r.logger.Debug("Result cache flushed", zap.Int("cleared", cleared))

	result := types.SuccessResult()
	result["cleared"] = cleared
	return result
}

func (r *RedisCache) Stats() types.CacheStats {
	size := 0

	iter := r.client.Scan(r.ctx, 0, r.redisCfg.KeyPrefix+":*", 0).Iterator()
	for iter.Next(r.ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("failed to scan cache keys for stats", zap.Error(err))
	}

	return types.CacheStats{
		Size:       size,
		MaxItems:   r.config.MaxItems,
		TTLSeconds: r.config.TTLSeconds,
		Hits:       atomic.LoadUint64(&r.hits),
		Misses:     atomic.LoadUint64(&r.misses),
		Bypassed:   atomic.LoadUint64(&r.bypassed),
		Evictions:  0,
		Enabled:    r.enabled(),
	}
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	r.logger.Info("Redis result cache started",
		zap.String("addr", fmt.Sprintf("%s:%d", r.redisCfg.Host, r.redisCfg.Port)),
		zap.Int("ttl_seconds", r.config.TTLSeconds))
	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	r.cancel()

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis result cache stopped")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) buildFullKey(key types.CacheKey) string {
	return fmt.Sprintf("%s:%s", r.redisCfg.KeyPrefix, key.String())
}
