package connection

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
)

// Manager is the readiness policy guarding the shared engine connection. The
// first caller to need the engine pays for discovery, connect, and downstream
// manager initialization; everyone racing it blocks on the same mutex and
// observes the established connection. Once connected, EnsureConnected is a
// cheap idempotent check.
type Manager struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	metrics    types.MetricsManager
	config     *types.ConnectionConfig
	connector  types.Connector
	state      types.StateManager
	capability types.Capability
	connectMu  sync.Mutex
	started    int32
}

func NewManager(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	connector types.Connector,
	state types.StateManager,
	capability types.Capability,
) (*Manager, error) {
	if connector == nil {
		return nil, types.NewErrorf("connector is required")
	}
	if state == nil {
		return nil, types.NewErrorf("state manager is required")
	}

	connConfig := config.GetConfig().Connection
	if connConfig == nil {
		connConfig = &types.ConnectionConfig{}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:        managerCtx,
		cancel:     cancel,
		logger:     logger,
		metrics:    metrics,
		config:     connConfig,
		connector:  connector,
		state:      state,
		capability: capability,
	}, nil
}

// EnsureConnected establishes the engine connection if it is not already up.
// Failures come back as structured results so the caller can hand them to the
// client verbatim; error returns are reserved for the lifecycle methods.
func (m *Manager) EnsureConnected() types.Result {
	if m.state.IsConnected() {
		return m.alreadyConnected()
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	// A racing caller may have finished the handshake while we waited.
	if m.state.IsConnected() {
		return m.alreadyConnected()
	}

	result := m.connect()
	m.recordAttempt(result.IsSuccess())
	return result
}

func (m *Manager) IsConnected() bool {
	return m.state.IsConnected()
}

// connect runs the full handshake. Expects m.connectMu held.
func (m *Manager) connect() types.Result {
	if !m.capability.Available {
		m.logger.Warn("Connect refused, native bridge unavailable",
			zap.String("detail", m.capability.Detail))

		result := types.FailureResult(types.ErrorTypeBridgeNotAvailable,
			"native bridge is not available: "+m.capability.Detail)
		result["hint"] = "install the engine's client libraries and restart the gateway"
		return result
	}

	instances, err := m.connector.DetectInstances()
	if err != nil {
		m.logger.ErrorWithErrStack("Instance discovery failed", err)
		return types.FailureResult(types.ErrorTypeDispatchError,
			"instance discovery failed: "+err.Error())
	}

	if len(instances) == 0 {
		m.logger.Warn("No running engine instances found")

		result := types.FailureResult(types.ErrorTypeNoInstances,
			"no running analytical engine instances were found")
		result["instances"] = []types.Instance{}
		result["hint"] = "start the desktop application and open a workbook, then retry"
		return result
	}

	index := m.config.InstanceIndex
	if index < 0 || index >= len(instances) {
		m.logger.Warn("Configured instance index out of range, using first instance",
			zap.Int("configured", index),
			zap.Int("detected", len(instances)))
		index = 0
	}

	target := instances[index]
	m.logger.Info("Connecting to engine instance",
		zap.String("instance", target.Name),
		zap.Int("port", target.Port),
		zap.Int("index", index))

	connectResult, err := m.connector.Connect(index)
	if err != nil {
		m.logger.ErrorWithErrStack("Engine connect failed", err)
		return types.FailureResult(types.ErrorTypeDispatchError,
			"failed to connect to instance "+target.Name+": "+err.Error())
	}
	if connectResult != nil && !connectResult.IsSuccess() {
		return connectResult
	}

	m.state.SetConnectionManager(m.connector)

	if err := m.state.InitializeManagers(); err != nil {
		m.logger.ErrorWithErrStack("Downstream manager initialization failed", err)
		return types.FailureResult(types.ErrorTypeDispatchError,
			"connected but failed to initialize managers: "+err.Error())
	}

	m.logger.Info("Engine connection established",
		zap.String("instance", target.Name),
		zap.Int("port", target.Port))

	result := types.SuccessResult()
	result["connected"] = true
	result["instance"] = map[string]interface{}{
		"name": target.Name,
		"port": target.Port,
		"pid":  target.PID,
	}
	return result
}

func (m *Manager) alreadyConnected() types.Result {
	result := types.SuccessResult()
	result["connected"] = true
	result["already_connected"] = true

	if info := m.connector.InstanceInfo(); info != nil {
		result["instance"] = map[string]interface{}{
			"name": info.Name,
			"port": info.Port,
			"pid":  info.PID,
		}
	}
	return result
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	m.logger.Info("Connection readiness manager started",
		zap.Bool("bridge_available", m.capability.Available),
		zap.Int("instance_index", m.config.InstanceIndex))
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.cancel()

	m.logger.Info("Connection readiness manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *Manager) recordAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}

	m.metrics.Counter("connection_attempts_total", map[string]string{
		"result": outcome,
	}).Inc()
}
