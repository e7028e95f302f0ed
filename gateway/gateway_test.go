package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabgate/tabgate/config"
	"github.com/tabgate/tabgate/types"
)

type fakeConnector struct {
	instances []types.Instance
	current   atomic.Pointer[types.Instance]
}

func (f *fakeConnector) DetectInstances() ([]types.Instance, error) {
	return f.instances, nil
}

func (f *fakeConnector) Connect(index int) (types.Result, error) {
	f.current.Store(&f.instances[index])
	return types.SuccessResult(), nil
}

func (f *fakeConnector) InstanceInfo() *types.Instance {
	return f.current.Load()
}

type fakeState struct {
	mu        sync.Mutex
	connected bool
}

func (f *fakeState) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeState) SetConnectionManager(mgr types.Connector) {}

func (f *fakeState) InitializeManagers() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

type countingHandler struct {
	calls int64
}

func (h *countingHandler) Execute(ctx context.Context, operation string, args map[string]interface{}) types.Result {
	atomic.AddInt64(&h.calls, 1)
	result := types.SuccessResult()
	result["operation"] = operation
	return result
}

func testConfig(tweak func(*types.GatewayConfig)) *types.GatewayConfig {
	cfg := config.NewLoader().Defaults()
	cfg.Logger.Level = "error"
	cfg.RateLimit.AcquireTimeoutMs = 0
	if tweak != nil {
		tweak(cfg)
	}
	return cfg
}

func newTestService(t *testing.T, cfg *types.GatewayConfig, handler types.Handler) (*Service, *fakeConnector) {
	t.Helper()

	connector := &fakeConnector{instances: []types.Instance{{Name: "primary", Port: 51234}}}

	svc, err := NewService(context.Background(), Options{
		Config:      cfg,
		Connector:   connector,
		State:       &fakeState{},
		BridgeProbe: func() (bool, string) { return true, "ok" },
		Handlers: map[types.Category]types.Handler{
			types.CategoryMetadata: handler,
			types.CategoryAnalysis: handler,
		},
	})
	require.NoError(t, err)
	return svc, connector
}

func TestInvokeFullPipeline(t *testing.T) {
	handler := &countingHandler{}
	svc, _ := newTestService(t, testConfig(nil), handler)

	result := svc.Gateway().Invoke(context.Background(), "list_tables", nil)
	require.True(t, result.IsSuccess())
	assert.Equal(t, "list_tables", result["operation"])
	assert.Equal(t, int64(1), atomic.LoadInt64(&handler.calls))
}

func TestInvokeServesSecondCallFromCache(t *testing.T) {
	handler := &countingHandler{}
	svc, _ := newTestService(t, testConfig(nil), handler)

	first := svc.Gateway().Invoke(context.Background(), "list_tables", map[string]interface{}{"schema": "sales"})
	require.True(t, first.IsSuccess())
	_, cached := first["cache"]
	assert.False(t, cached, "first call is computed, not cached")

	second := svc.Gateway().Invoke(context.Background(), "list_tables", map[string]interface{}{"schema": "sales"})
	require.True(t, second.IsSuccess())

	meta, ok := second["cache"].(map[string]interface{})
	require.True(t, ok, "second call is served from cache")
	assert.Equal(t, true, meta["hit"])

	assert.Equal(t, int64(1), atomic.LoadInt64(&handler.calls), "handler ran once")

	// Different arguments are a different key.
	third := svc.Gateway().Invoke(context.Background(), "list_tables", map[string]interface{}{"schema": "hr"})
	require.True(t, third.IsSuccess())
	assert.Equal(t, int64(2), atomic.LoadInt64(&handler.calls))
}

func TestInvokeNonCacheableOperationAlwaysExecutes(t *testing.T) {
	handler := &countingHandler{}
	svc, _ := newTestService(t, testConfig(nil), handler)

	for i := 0; i < 3; i++ {
		result := svc.Gateway().Invoke(context.Background(), "connection_status", nil)
		require.True(t, result.IsSuccess())
	}
	assert.Equal(t, int64(3), atomic.LoadInt64(&handler.calls))
}

func TestInvokeRateLimited(t *testing.T) {
	handler := &countingHandler{}
	cfg := testConfig(func(c *types.GatewayConfig) {
		c.RateLimit.GlobalCallsPerSecond = 0.001
		c.RateLimit.GlobalBurst = 1
	})
	svc, _ := newTestService(t, cfg, handler)

	first := svc.Gateway().Invoke(context.Background(), "connection_status", nil)
	require.True(t, first.IsSuccess())

	second := svc.Gateway().Invoke(context.Background(), "connection_status", nil)
	assert.False(t, second.IsSuccess())
	assert.Equal(t, types.ErrorTypeRateLimited, second.ErrorType())
	assert.Greater(t, second["retry_after_seconds"].(float64), 0.0)
}

func TestInvokePropagatesConnectionFailure(t *testing.T) {
	handler := &countingHandler{}
	svc, connector := newTestService(t, testConfig(nil), handler)
	connector.instances = nil

	result := svc.Gateway().Invoke(context.Background(), "list_tables", nil)
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeNoInstances, result.ErrorType())
	assert.Equal(t, int64(0), atomic.LoadInt64(&handler.calls), "handler never runs without a connection")
}

func TestFlushCacheAndStats(t *testing.T) {
	handler := &countingHandler{}
	svc, _ := newTestService(t, testConfig(nil), handler)

	svc.Gateway().Invoke(context.Background(), "list_tables", nil)
	svc.Gateway().Invoke(context.Background(), "list_tables", nil)

	stats := svc.Gateway().Stats()
	require.True(t, stats.IsSuccess())

	cacheStats := stats["cache"].(types.CacheStats)
	assert.Equal(t, 1, cacheStats.Size)
	assert.Equal(t, uint64(1), cacheStats.Hits)
	assert.Equal(t, true, stats["connected"])

	flushed := svc.Gateway().FlushCache()
	assert.True(t, flushed.IsSuccess())
	assert.Equal(t, 1, flushed["cleared"])

	after := svc.Gateway().Stats()
	assert.Equal(t, 0, after["cache"].(types.CacheStats).Size)
}

func TestServiceStartStop(t *testing.T) {
	handler := &countingHandler{}
	svc, _ := newTestService(t, testConfig(nil), handler)

	require.NoError(t, svc.Start())
	assert.True(t, svc.Container().ResultCache().IsRunning())

	result := svc.Gateway().Invoke(context.Background(), "list_tables", nil)
	assert.True(t, result.IsSuccess())

	require.NoError(t, svc.Stop())
	assert.False(t, svc.Container().ResultCache().IsRunning())
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(context.Background(), Options{Config: testConfig(nil)})
	assert.Error(t, err)

	_, err = NewService(context.Background(), Options{
		Config:    testConfig(nil),
		Connector: &fakeConnector{},
	})
	assert.Error(t, err)
}
