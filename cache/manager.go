package cache

import (
	"context"
	"time"

	"github.com/tabgate/tabgate/types"
)

var customCacheCreators = make(map[string]types.ResultCacheCreator)

func RegisterResultCache(cacheName string, creator types.ResultCacheCreator) {
	customCacheCreators[cacheName] = creator
}

func NewResultCache(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.ResultCache, error) {
	cacheConfig := config.GetConfig().Cache
	if cacheConfig == nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "cache configuration is missing")
	}

	var impl types.ResultCache
	var err error

	switch cacheConfig.Type {
	case "memory":
		impl, err = NewMemoryCache(ctx, logger, cacheConfig)
	case "redis":
		impl, err = NewRedisCache(ctx, logger, cacheConfig)
	default:
		if creator, exists := customCacheCreators[cacheConfig.Type]; exists {
			impl, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", cacheConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedResultCache(logger, metrics, impl), nil
}

type instrumentedResultCache struct {
	impl    types.ResultCache
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedResultCache(logger types.Logger, metrics types.MetricsManager, impl types.ResultCache) types.ResultCache {
	return &instrumentedResultCache{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (irc *instrumentedResultCache) Get(key types.CacheKey) (types.Result, bool) {
	start := time.Now()
	result, found := irc.impl.Get(key)
	duration := time.Since(start)

	outcome := "miss"
	if found {
		outcome = "hit"
	}

	irc.recordMetric("get", outcome, duration)
	return result, found
}

func (irc *instrumentedResultCache) Set(key types.CacheKey, result types.Result) {
	start := time.Now()
	irc.impl.Set(key, result)

	irc.recordMetric("set", "success", time.Since(start))
}

func (irc *instrumentedResultCache) Flush() types.Result {
	start := time.Now()
	result := irc.impl.Flush()

	irc.recordMetric("flush", "success", time.Since(start))
	return result
}

func (irc *instrumentedResultCache) Stats() types.CacheStats {
	return irc.impl.Stats()
}

func (irc *instrumentedResultCache) Start() error {
	start := time.Now()
	err := irc.impl.Start()
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	irc.recordMetric("start", outcome, duration)
	return err
}

func (irc *instrumentedResultCache) Stop() error {
	return irc.impl.Stop()
}

func (irc *instrumentedResultCache) IsRunning() bool {
	return irc.impl.IsRunning()
}

func (irc *instrumentedResultCache) recordMetric(operation, result string, duration time.Duration) {
	opCounter := irc.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := irc.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
