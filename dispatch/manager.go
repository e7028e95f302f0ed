package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
)

// Manager routes operation names to category handlers through the declarative
// manifest. It is the single boundary where handler failures, nil results,
// and panics become structured Results; nothing past this point is allowed to
// surface a raw error to the caller.
type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	metrics  types.MetricsManager
	manifest *Manifest
	handlers map[types.Category]types.Handler
	mu       sync.RWMutex
	started  int32
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, manifest *Manifest) (*Manager, error) {
	if manifest == nil {
		var err error
		manifest, err = DefaultManifest()
		if err != nil {
			return nil, err
		}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:      managerCtx,
		cancel:   cancel,
		logger:   logger,
		metrics:  metrics,
		manifest: manifest,
		handlers: make(map[types.Category]types.Handler),
	}, nil
}

func (m *Manager) Manifest() *Manifest {
	return m.manifest
}

func (m *Manager) Classify(name string) types.Category {
	return m.manifest.Classify(name)
}

func (m *Manager) RegisterHandler(category types.Category, handler types.Handler) error {
	if handler == nil {
		return types.ErrHandlerIsNil
	}
	if !category.Valid() {
		return types.Errorf(types.ErrUnknownCategory, "category: %s", category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[category] = handler
	return nil
}

// Dispatch classifies name and invokes the category handler. A missing
// handler, a handler error, a nil result, or a panic all come back as
// structured failures.
func (m *Manager) Dispatch(ctx context.Context, name string, args map[string]interface{}) types.Result {
	category := m.manifest.Classify(name)
	invocationID := uuid.New().String()

	m.mu.RLock()
	handler, exists := m.handlers[category]
	m.mu.RUnlock()

	if !exists {
		m.logger.Warn("No handler registered for category",
			zap.String("invocation_id", invocationID),
			zap.String("operation", name),
			zap.String("category", string(category)))

		m.recordDispatch(name, category, "unknown_category", 0)
		return types.FailureResult(types.ErrorTypeUnknownCategory,
			"no handler registered for category "+string(category))
	}

	start := time.Now()
	result := m.invoke(ctx, handler, invocationID, name, args)
	duration := time.Since(start)

	outcome := "success"
	if !result.IsSuccess() {
		outcome = result.ErrorType()
	}

	m.logger.Debug("Operation dispatched",
		zap.String("invocation_id", invocationID),
		zap.String("operation", name),
		zap.String("category", string(category)),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration))

	m.recordDispatch(name, category, outcome, duration)
	return result
}

// invoke runs the handler with a panic barrier.
func (m *Manager) invoke(ctx context.Context, handler types.Handler, invocationID, name string, args map[string]interface{}) (result types.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("Handler panicked",
				zap.String("invocation_id", invocationID),
				zap.String("operation", name),
				zap.Any("panic", rec))

			result = types.FailureResult(types.ErrorTypeDispatchError,
				"internal error while executing "+name)
		}
	}()

	result = handler.Execute(ctx, name, args)
	if result == nil {
		m.logger.Error("Handler returned nil result",
			zap.String("invocation_id", invocationID),
			zap.String("operation", name))

		return types.FailureResult(types.ErrorTypeDispatchError,
			"handler returned no result for "+name)
	}
	return result
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	m.mu.RLock()
	registered := len(m.handlers)
	m.mu.RUnlock()

	m.logger.Info("Dispatcher started",
		zap.Int("operations", len(m.manifest.Operations())),
		zap.Int("handlers", registered))
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.cancel()

	m.logger.Info("Dispatcher stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *Manager) recordDispatch(name string, category types.Category, outcome string, duration time.Duration) {
	m.metrics.Counter("dispatch_operations_total", map[string]string{
		"operation": name,
		"category":  string(category),
		"result":    outcome,
	}).Inc()

	if duration > 0 {
		m.metrics.Histogram("dispatch_duration_seconds",
			[]float64{0.001, 0.01, 0.1, 1.0, 10.0},
			map[string]string{"category": string(category)},
		).Observe(duration.Seconds())
	}
}
