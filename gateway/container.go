package gateway

import (
	"sync/atomic"

	"github.com/tabgate/tabgate/cache"
	"github.com/tabgate/tabgate/logger"
	"github.com/tabgate/tabgate/metrics"
	"github.com/tabgate/tabgate/types"
)

// Container holds the gateway's wired components. Slots are atomic pointers
// so late rebinding (tests swapping a limiter, a custom cache backend) is safe
// against concurrent readers.
type Container struct {
	config      atomic.Pointer[types.ConfigManager]
	logger      atomic.Pointer[types.Logger]
	metrics     atomic.Pointer[types.MetricsManager]
	health      atomic.Pointer[types.HealthManager]
	resultCache atomic.Pointer[types.ResultCache]
	limiter     atomic.Pointer[types.RateLimiter]
	readiness   atomic.Pointer[types.ReadinessPolicy]
	dispatcher  atomic.Pointer[types.Dispatcher]
	cron        atomic.Pointer[types.CronManager]
}

func NewContainer() *Container {
	return &Container{}
}

// RegisterResultCache plugs a custom cache backend into the factory, keyed by
// the config "type" value.
func RegisterResultCache(name string, creator types.ResultCacheCreator) {
	cache.RegisterResultCache(name, creator)
}

func RegisterMetricsManager(name string, creator types.MetricsManagerCreator) {
	metrics.RegisterMetricsManager(name, creator)
}

func RegisterLogger(name string, creator types.LoggerCreator) {
	logger.RegisterLogger(name, creator)
}

func (c *Container) Config() types.ConfigManager {
	if ptr := c.config.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) Logger() types.Logger {
	if ptr := c.logger.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) Metrics() types.MetricsManager {
	if ptr := c.metrics.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) Health() types.HealthManager {
	if ptr := c.health.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) ResultCache() types.ResultCache {
	if ptr := c.resultCache.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) RateLimiter() types.RateLimiter {
	if ptr := c.limiter.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) Readiness() types.ReadinessPolicy {
	if ptr := c.readiness.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) Dispatcher() types.Dispatcher {
	if ptr := c.dispatcher.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) Cron() types.CronManager {
	if ptr := c.cron.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

func (c *Container) SetConfig(config types.ConfigManager) { c.config.Store(&config) }

func (c *Container) SetLogger(log types.Logger) { c.logger.Store(&log) }

func (c *Container) SetMetrics(m types.MetricsManager) { c.metrics.Store(&m) }

func (c *Container) SetHealth(h types.HealthManager) { c.health.Store(&h) }

func (c *Container) SetResultCache(rc types.ResultCache) { c.resultCache.Store(&rc) }

func (c *Container) SetRateLimiter(rl types.RateLimiter) { c.limiter.Store(&rl) }

func (c *Container) SetReadiness(policy types.ReadinessPolicy) { c.readiness.Store(&policy) }

func (c *Container) SetDispatcher(dispatcher types.Dispatcher) { c.dispatcher.Store(&dispatcher) }

func (c *Container) SetCron(cronManager types.CronManager) { c.cron.Store(&cronManager) }
