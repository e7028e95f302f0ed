package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

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

type fakeConnector struct {
	instances    []types.Instance
	detectErr    error
	connectErr   error
	detectCalls  int64
	connectCalls int64
	current      atomic.Pointer[types.Instance]
}

func (f *fakeConnector) DetectInstances() ([]types.Instance, error) {
	atomic.AddInt64(&f.detectCalls, 1)
	return f.instances, f.detectErr
}

func (f *fakeConnector) Connect(index int) (types.Result, error) {
	atomic.AddInt64(&f.connectCalls, 1)
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.current.Store(&f.instances[index])
	return types.SuccessResult(), nil
}

func (f *fakeConnector) InstanceInfo() *types.Instance {
	return f.current.Load()
}

type fakeState struct {
	mu        sync.Mutex
	connected bool
	initCalls int
	initErr   error
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
	f.initCalls++
	if f.initErr != nil {
		return f.initErr
	}
	f.connected = true
	return nil
}

func newTestManager(t *testing.T, connector *fakeConnector, state *fakeState, capability types.Capability) *Manager {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	mm, err := metrics.NewMemoryMetrics(context.Background(), log, &types.MetricsConfig{Type: "memory"})
	require.NoError(t, err)

	m, err := NewManager(context.Background(), &staticConfig{
		config: &types.GatewayConfig{Name: "test", Connection: &types.ConnectionConfig{}},
	}, log, mm, connector, state, capability)
	require.NoError(t, err)
	return m
}

func TestEnsureConnectedHappyPath(t *testing.T) {
	connector := &fakeConnector{instances: []types.Instance{{Name: "primary", Port: 51234}}}
	state := &fakeState{}
	m := newTestManager(t, connector, state, types.Capability{Available: true})

	result := m.EnsureConnected()
	require.True(t, result.IsSuccess())
	assert.Equal(t, true, result["connected"])
	assert.True(t, m.IsConnected())

	instance := result["instance"].(map[string]interface{})
	assert.Equal(t, "primary", instance["name"])
}

func TestEnsureConnectedIdempotent(t *testing.T) {
	connector := &fakeConnector{instances: []types.Instance{{Name: "primary", Port: 51234}}}
	state := &fakeState{}
	m := newTestManager(t, connector, state, types.Capability{Available: true})

	first := m.EnsureConnected()
	require.True(t, first.IsSuccess())

	second := m.EnsureConnected()
	require.True(t, second.IsSuccess())
	assert.Equal(t, true, second["already_connected"])

	// No second discovery or connect once connected.
	assert.Equal(t, int64(1), atomic.LoadInt64(&connector.detectCalls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&connector.connectCalls))
}

func TestEnsureConnectedNoInstances(t *testing.T) {
	connector := &fakeConnector{}
	state := &fakeState{}
	m := newTestManager(t, connector, state, types.Capability{Available: true})

	result := m.EnsureConnected()
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeNoInstances, result.ErrorType())
	assert.NotEmpty(t, result["hint"], "no_instances carries a remediation hint")
	assert.False(t, m.IsConnected())
}

func TestEnsureConnectedBridgeUnavailable(t *testing.T) {
	connector := &fakeConnector{instances: []types.Instance{{Name: "primary"}}}
	state := &fakeState{}
	m := newTestManager(t, connector, state, types.Capability{Available: false, Detail: "interop libraries missing"})

	result := m.EnsureConnected()
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeBridgeNotAvailable, result.ErrorType())

	// The bridge check short-circuits before discovery.
	assert.Equal(t, int64(0), atomic.LoadInt64(&connector.detectCalls))
}

func TestEnsureConnectedInitFailure(t *testing.T) {
	connector := &fakeConnector{instances: []types.Instance{{Name: "primary"}}}
	state := &fakeState{initErr: types.NewErrorf("boom")}
	m := newTestManager(t, connector, state, types.Capability{Available: true})

	result := m.EnsureConnected()
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeDispatchError, result.ErrorType())
	assert.False(t, m.IsConnected())
}

func TestEnsureConnectedConcurrentSingleConnect(t *testing.T) {
	connector := &fakeConnector{instances: []types.Instance{{Name: "primary", Port: 51234}}}
	state := &fakeState{}
	m := newTestManager(t, connector, state, types.Capability{Available: true})

	var wg sync.WaitGroup
	results := make([]types.Result, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = m.EnsureConnected()
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		assert.True(t, result.IsSuccess())
	}

	// The connect-and-initialize sequence ran exactly once.
	assert.Equal(t, int64(1), atomic.LoadInt64(&connector.connectCalls))
	assert.Equal(t, 1, state.initCalls)
}

func TestProbeCapabilityNilProbe(t *testing.T) {
	capability := ProbeCapability(logger.NewZapWrapper(zap.NewNop()), nil)
	assert.False(t, capability.Available)
}

func TestProbeCapabilityRunsOnce(t *testing.T) {
	calls := 0
	capability := ProbeCapability(logger.NewZapWrapper(zap.NewNop()), func() (bool, string) {
		calls++
		return true, "ok"
	})
	assert.True(t, capability.Available)
	assert.Equal(t, "ok", capability.Detail)
	assert.Equal(t, 1, calls)
}
