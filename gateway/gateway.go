package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tabgate/tabgate/dispatch"
	"github.com/tabgate/tabgate/types"
	"github.com/tabgate/tabgate/utils"
)

// limiterStats is implemented by the rate limiter manager; the gateway treats
// it as optional so custom limiters without a snapshot still work.
type limiterStats interface {
	Stats() map[string]interface{}
}

// Gateway runs the admission pipeline every tool invocation passes through:
// rate limit, cache lookup, connection readiness, dispatch, cache store. All
// failures come back as structured Results.
type Gateway struct {
	container *Container
	manifest  *dispatch.Manifest
	connector types.Connector
	logger    types.Logger
}

func NewGateway(container *Container, manifest *dispatch.Manifest, connector types.Connector) *Gateway {
	return &Gateway{
		container: container,
		manifest:  manifest,
		connector: connector,
		logger:    container.Logger(),
	}
}

// Invoke executes operation name with args through the full pipeline.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]interface{}) types.Result {
	start := time.Now()

	result := g.invoke(ctx, name, args)

	outcome := "success"
	if !result.IsSuccess() {
		outcome = result.ErrorType()
	}

	g.container.Metrics().Counter("gateway_invocations_total", map[string]string{
		"operation": name,
		"result":    outcome,
	}).Inc()
	g.container.Metrics().Histogram("gateway_invocation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0, 10.0},
		map[string]string{"operation": name},
	).ObserveDuration(start)

	return result
}

func (g *Gateway) invoke(ctx context.Context, name string, args map[string]interface{}) types.Result {
	limiter := g.container.RateLimiter()
	timeout := g.acquireTimeout()

	allowed, retryAfter := limiter.Acquire(ctx, name, 1, timeout)
	if !allowed {
		g.logger.Warn("Invocation rate limited",
			zap.String("operation", name),
			zap.Duration("retry_after", retryAfter))

		result := types.FailureResult(types.ErrorTypeRateLimited,
			"rate limit exceeded for "+name)
		result["retry_after_seconds"] = retryAfter.Seconds()
		return result
	}

	cacheable := g.manifest.Cacheable(name)

	if cacheable {
		if cached, found := g.container.ResultCache().Get(g.cacheKey(name, args)); found {
			return cached
		}
	}

	if ready := g.container.Readiness().EnsureConnected(); !ready.IsSuccess() {
		return ready
	}

	result := g.container.Dispatcher().Dispatch(ctx, name, args)

	if cacheable && result.IsSuccess() {
		// The key is derived again here: the first call of a session computes
		// it before the instance is known, and stores must be scoped to the
		// instance actually connected.
		g.container.ResultCache().Set(g.cacheKey(name, args), result)
	}

	return result
}

// FlushCache clears the result cache. Exposed to the admin server and to the
// flush_cache diagnostic operation.
func (g *Gateway) FlushCache() types.Result {
	return g.container.ResultCache().Flush()
}

// Stats aggregates cache and limiter state into one snapshot.
func (g *Gateway) Stats() types.Result {
	result := types.SuccessResult()
	result["cache"] = g.container.ResultCache().Stats()
	result["operations"] = g.manifest.Operations()

	if limiter, ok := g.container.RateLimiter().(limiterStats); ok {
		result["rate_limit"] = limiter.Stats()
	}
	if info := g.connector.InstanceInfo(); info != nil {
		result["instance"] = *info
	}
	result["connected"] = g.container.Readiness().IsConnected()

	return result
}

// cacheKey fingerprints an invocation: the operation name plus a canonical
// rendering of its arguments, scoped to the connected instance.
func (g *Gateway) cacheKey(name string, args map[string]interface{}) types.CacheKey {
	query := name
	if len(args) > 0 {
		if fingerprint, err := utils.MarshalCanonical(args); err == nil {
			query = name + " " + string(fingerprint)
		} else {
			g.logger.Warn("Failed to fingerprint arguments, caching by name only",
				zap.String("operation", name),
				zap.Error(err))
		}
	}

	instance := ""
	if info := g.connector.InstanceInfo(); info != nil {
		instance = info.Name
	}

	return types.NewCacheKey(query, instance)
}

func (g *Gateway) acquireTimeout() time.Duration {
	limitConfig := g.container.Config().GetConfig().RateLimit
	if limitConfig == nil {
		return 0
	}
	return time.Duration(limitConfig.AcquireTimeoutMs) * time.Millisecond
}
