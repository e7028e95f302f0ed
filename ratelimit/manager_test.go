package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabgate/tabgate/logger"
	"github.com/tabgate/tabgate/metrics"
	"github.com/tabgate/tabgate/types"
)

type staticConfig struct {
	config *types.GatewayConfig
}

func (s *staticConfig) Load() error { return nil }

func (s *staticConfig) GetConfig() *types.GatewayConfig { return s.config }

func newTestLimiter(t *testing.T, limitConfig *types.RateLimitConfig) (*Manager, *time.Time) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	mm, err := metrics.NewMemoryMetrics(context.Background(), log, &types.MetricsConfig{Type: "memory"})
	require.NoError(t, err)

	m, err := NewManager(context.Background(), &staticConfig{
		config: &types.GatewayConfig{Name: "test", RateLimit: limitConfig},
	}, log, mm)
	require.NoError(t, err)

	clock := time.Now()
	m.nowFunc = func() time.Time { return clock }
	m.global.lastUpdate = clock
	return m, &clock
}

func TestAllowRequestBurstThenRefill(t *testing.T) {
	m, clock := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 2,
		GlobalBurst:          2,
	})

	assert.True(t, m.AllowRequest("op", 1))
	assert.True(t, m.AllowRequest("op", 1))
	assert.False(t, m.AllowRequest("op", 1), "burst exhausted")

	*clock = clock.Add(500 * time.Millisecond)
	assert.True(t, m.AllowRequest("op", 1), "half a second refills one token at 2/s")
}

func TestAllowRequestRefusalDebitsNothing(t *testing.T) {
	m, _ := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 1,
		GlobalBurst:          5,
	})

	assert.False(t, m.AllowRequest("op", 10), "cost above level is refused")
	// The full burst is still there.
	for i := 0; i < 5; i++ {
		assert.True(t, m.AllowRequest("op", 1))
	}
}

func TestNamedBucketConstrainsJointDebit(t *testing.T) {
	m, clock := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 100,
		GlobalBurst:          100,
		ToolLimits:           map[string]float64{"slow_op": 1},
		ToolBursts:           map[string]int{"slow_op": 1},
	})

	assert.True(t, m.AllowRequest("slow_op", 1))
	assert.False(t, m.AllowRequest("slow_op", 1), "named bucket is empty")
	assert.True(t, m.AllowRequest("other_op", 1), "global bucket still has tokens")

	*clock = clock.Add(time.Second)
	assert.True(t, m.AllowRequest("slow_op", 1))
}

func TestRetryAfterMonotoneNonIncreasing(t *testing.T) {
	m, clock := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 1,
		GlobalBurst:          1,
	})

	require.True(t, m.AllowRequest("op", 1))

	first := m.RetryAfter("op")
	assert.Greater(t, first, time.Duration(0))

	*clock = clock.Add(300 * time.Millisecond)
	second := m.RetryAfter("op")
	assert.LessOrEqual(t, second, first)

	*clock = clock.Add(800 * time.Millisecond)
	assert.Equal(t, time.Duration(0), m.RetryAfter("op"))
}

func TestRetryAfterDoesNotMutate(t *testing.T) {
	m, clock := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 1,
		GlobalBurst:          1,
	})

	require.True(t, m.AllowRequest("op", 1))

	// Probing repeatedly must not consume the elapsed time: after a full
	// second the bucket refills exactly one token regardless of probes.
	for i := 0; i < 10; i++ {
		m.RetryAfter("op")
		*clock = clock.Add(100 * time.Millisecond)
	}

	assert.True(t, m.AllowRequest("op", 1))
	assert.False(t, m.AllowRequest("op", 1))
}

func TestAcquireZeroTimeoutNonBlocking(t *testing.T) {
	m, _ := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 1,
		GlobalBurst:          1,
	})

	require.True(t, m.AllowRequest("op", 1))

	start := time.Now()
	allowed, wait := m.Acquire(context.Background(), "op", 1, 0)
	assert.False(t, allowed)
	assert.GreaterOrEqual(t, wait, time.Duration(0))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "zero timeout must not block")

	// The refused acquire debited nothing: the tracked level is unchanged.
	m.mu.Lock()
	level := m.global.level
	m.mu.Unlock()
	assert.InDelta(t, 0, level, 0.001)
}

func TestAcquireSucceedsAfterRefill(t *testing.T) {
	m, _ := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 20,
		GlobalBurst:          1,
	})
	m.nowFunc = time.Now
	m.mu.Lock()
	m.global.lastUpdate = time.Now()
	m.mu.Unlock()

	require.True(t, m.AllowRequest("op", 1))

	allowed, _ := m.Acquire(context.Background(), "op", 1, time.Second)
	assert.True(t, allowed, "20 tokens/s refills one well within a second")
}

func TestAcquireRecordsWaitHistogram(t *testing.T) {
	m, _ := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 20,
		GlobalBurst:          1,
	})
	m.nowFunc = time.Now
	m.mu.Lock()
	m.global.lastUpdate = time.Now()
	m.mu.Unlock()

	require.True(t, m.AllowRequest("op", 1))

	allowed, _ := m.Acquire(context.Background(), "op", 1, time.Second)
	require.True(t, allowed)

	waits := m.metrics.Histogram("rate_limit_wait_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0, 10.0},
		map[string]string{"tool": "op"})
	assert.Equal(t, uint64(1), waits.GetCount(), "blocked admission records one wait sample")
	assert.Greater(t, waits.GetSum(), 0.0)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m, _ := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 0.001,
		GlobalBurst:          1,
	})
	m.nowFunc = time.Now

	require.True(t, m.AllowRequest("op", 1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	allowed, _ := m.Acquire(ctx, "op", 1, 10*time.Second)
	assert.False(t, allowed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConcurrentDebitsAreLinearizable(t *testing.T) {
	m, _ := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 0.001, // effectively no refill during the test
		GlobalBurst:          10,
	})
	m.nowFunc = time.Now

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.AllowRequest("op", 1) {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), allowed, "exactly the burst is admitted")
}

func TestPruneIdleRecreatesEquivalentBucket(t *testing.T) {
	m, clock := newTestLimiter(t, &types.RateLimitConfig{
		GlobalCallsPerSecond: 100,
		GlobalBurst:          100,
		ToolLimits:           map[string]float64{"op": 2},
		ToolBursts:           map[string]int{"op": 2},
	})

	require.True(t, m.AllowRequest("op", 1))

	// Not prunable while below capacity.
	assert.Equal(t, 0, m.PruneIdle(time.Minute))

	*clock = clock.Add(2 * time.Hour)
	assert.Equal(t, 1, m.PruneIdle(time.Minute))

	// A fresh bucket behaves like the idle one would have.
	assert.True(t, m.AllowRequest("op", 1))
	assert.True(t, m.AllowRequest("op", 1))
	assert.False(t, m.AllowRequest("op", 1))
}

func TestInvalidBucketSpecRejected(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())
	mm, err := metrics.NewMemoryMetrics(context.Background(), log, &types.MetricsConfig{Type: "memory"})
	require.NoError(t, err)

	_, err = NewManager(context.Background(), &staticConfig{
		config: &types.GatewayConfig{
			Name: "test",
			RateLimit: &types.RateLimitConfig{
				GlobalCallsPerSecond: 0,
				GlobalBurst:          1,
			},
		},
	}, log, mm)
	assert.True(t, types.IsError(err, types.ErrInvalidBucketSpec))
}
