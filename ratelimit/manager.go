package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
)

const retryPollInterval = 25 * time.Millisecond

// Manager admits operations against a global token bucket plus optional
// per-operation buckets. A request is admitted only when every bucket that
// applies to it can cover the cost; the debit is all-or-nothing, so a refusal
// leaves all levels untouched. Named buckets are created on first use from
// the configured limits and may be pruned while idle without losing state.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	metrics types.MetricsManager
	config  *types.RateLimitConfig
	global  *bucket
	named   map[string]*bucket
	mu      sync.Mutex
	started int32
	nowFunc func() time.Time
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	limitConfig := config.GetConfig().RateLimit
	if limitConfig == nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "rate limit configuration is missing")
	}

	if limitConfig.GlobalCallsPerSecond <= 0 {
		return nil, types.Errorf(types.ErrInvalidBucketSpec, "global_calls_per_second must be > 0, got %f", limitConfig.GlobalCallsPerSecond)
	}
	if limitConfig.GlobalBurst < 1 {
		return nil, types.Errorf(types.ErrInvalidBucketSpec, "global_burst must be >= 1, got %d", limitConfig.GlobalBurst)
	}
	for name, cps := range limitConfig.ToolLimits {
		if cps <= 0 {
			return nil, types.Errorf(types.ErrInvalidBucketSpec, "tool limit for %q must be > 0, got %f", name, cps)
		}
	}
	for name, burst := range limitConfig.ToolBursts {
		if burst < 1 {
			return nil, types.Errorf(types.ErrInvalidBucketSpec, "tool burst for %q must be >= 1, got %d", name, burst)
		}
	}

	limiterCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	manager := &Manager{
		ctx:     limiterCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		config:  limitConfig,
		global:  newBucket(limitConfig.GlobalCallsPerSecond, limitConfig.GlobalBurst, now),
		named:   make(map[string]*bucket),
		nowFunc: time.Now,
	}

	return manager, nil
}

// AllowRequest refills the global bucket and, when a limit is configured for
// name, the named bucket, then debits both if both can cover cost. It never
// blocks and a refusal debits nothing.
func (m *Manager) AllowRequest(name string, cost float64) bool {
	if cost <= 0 {
		cost = 1
	}

	m.mu.Lock()
	now := m.nowFunc()

	m.global.refill(now)

	named := m.bucketFor(name, now)
	if named != nil {
		named.refill(now)
	}

	allowed := m.global.covers(cost) && (named == nil || named.covers(cost))
	if allowed {
		m.global.take(cost)
		if named != nil {
			named.take(cost)
		}
	}
	m.mu.Unlock()

	m.recordDecision(name, allowed)
	return allowed
}

// Acquire retries admission until it succeeds, the timeout lapses, or ctx is
// cancelled. On refusal the returned duration is the current retry estimate
// for the more constrained bucket; it is a hint, not a reservation.
func (m *Manager) Acquire(ctx context.Context, name string, cost float64, timeout time.Duration) (bool, time.Duration) {
	if m.AllowRequest(name, cost) {
		return true, 0
	}
	if timeout <= 0 {
		return false, m.RetryAfter(name)
	}

	blockedAt := time.Now()
	defer func() {
		m.recordWait(name, time.Since(blockedAt))
	}()

	deadline := m.nowFunc().Add(timeout)
	timer := time.NewTimer(retryPollInterval)
	defer timer.Stop()

	for {
		wait := m.retryAfterCost(name, cost)
		if wait > retryPollInterval {
			wait = retryPollInterval
		}
		if remaining := deadline.Sub(m.nowFunc()); remaining <= 0 {
			return false, m.RetryAfter(name)
		} else if wait > remaining {
			wait = remaining
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return false, m.RetryAfter(name)
		case <-m.ctx.Done():
			return false, m.RetryAfter(name)
		case <-timer.C:
		}

		if m.AllowRequest(name, cost) {
			return true, 0
		}
	}
}

// RetryAfter estimates the wait until a single-unit request for name would be
// admitted. The estimate is computed against a projection of the buckets at
// the current instant; no token state changes.
func (m *Manager) RetryAfter(name string) time.Duration {
	return m.retryAfterCost(name, 1)
}

func (m *Manager) retryAfterCost(name string, cost float64) time.Duration {
	if cost <= 0 {
		cost = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	wait := m.global.waitFor(cost, now)

	if named := m.bucketFor(name, now); named != nil {
		if namedWait := named.waitFor(cost, now); namedWait > wait {
			wait = namedWait
		}
	}

	return wait
}

// PruneIdle discards named buckets that are fully refilled and untouched for
// at least maxIdle. A pruned bucket is indistinguishable from a fresh one, so
// this only reclaims memory for operations that went quiet.
func (m *Manager) PruneIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	cutoff := now.Add(-maxIdle)

	pruned := 0
	for name, b := range m.named {
		if b.idle(cutoff, now) {
			delete(m.named, name)
			pruned++
		}
	}

	if pruned > 0 {
		m.logger.Debug("Pruned idle rate limit buckets", zap.Int("pruned", pruned))
	}
	return pruned
}

// Stats snapshots current bucket levels for the admin surface.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	m.global.refill(now)

	namedLevels := make(map[string]interface{}, len(m.named))
	for name, b := range m.named {
		b.refill(now)
		namedLevels[name] = map[string]interface{}{
			"level":            b.level,
			"capacity":         b.capacity,
			"calls_per_second": b.refillRate,
		}
	}

	return map[string]interface{}{
		"global": map[string]interface{}{
			"level":            m.global.level,
			"capacity":         m.global.capacity,
			"calls_per_second": m.global.refillRate,
		},
		"tools": namedLevels,
	}
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	m.logger.Info("Rate limiter started",
		zap.Float64("global_calls_per_second", m.config.GlobalCallsPerSecond),
		zap.Int("global_burst", m.config.GlobalBurst),
		zap.Int("tool_limits", len(m.config.ToolLimits)))
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.cancel()

	m.mu.Lock()
	m.named = make(map[string]*bucket)
	m.mu.Unlock()

	m.logger.Info("Rate limiter stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

// bucketFor returns the named bucket for name, creating it from the
// configured limits on first use. Operations without a configured limit get
// no named bucket and consume from the global bucket only. Expects m.mu held.
func (m *Manager) bucketFor(name string, now time.Time) *bucket {
	cps, limited := m.config.ToolLimits[name]
	if !limited {
		return nil
	}

	if b, exists := m.named[name]; exists {
		return b
	}

	burst, ok := m.config.ToolBursts[name]
	if !ok || burst < 1 {
		burst = 1
		if cps > 1 {
			burst = int(cps)
		}
	}

	b := newBucket(cps, burst, now)
	m.named[name] = b
	return b
}

func (m *Manager) recordDecision(name string, allowed bool) {
	outcome := "limited"
	if allowed {
		outcome = "allowed"
	}

	m.metrics.Counter("rate_limit_requests_total", map[string]string{
		"tool":   name,
		"result": outcome,
	}).Inc()
}

// recordWait observes how long a caller spent blocked in Acquire before its
// admission was decided. The fast non-blocking path is not observed.
func (m *Manager) recordWait(name string, blocked time.Duration) {
	m.metrics.Histogram("rate_limit_wait_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0, 10.0},
		map[string]string{"tool": name},
	).Observe(blocked.Seconds())
}
