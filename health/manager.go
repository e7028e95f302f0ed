package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tabgate/tabgate/types"
)

const checkTimeout = 5 * time.Second

// Manager fans registered checkers out concurrently and folds their results
// into one report. A checker that panics or overruns its timeout marks its
// check unhealthy without affecting the others.
type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	checkers map[string]types.HealthChecker
	startAt  time.Time
	mu       sync.RWMutex
	started  int32
}

func NewManager(ctx context.Context, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:      managerCtx,
		cancel:   cancel,
		logger:   logger,
		checkers: make(map[string]types.HealthChecker),
	}
}

func (m *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	if name == "" || checker == nil {
		return
	}

	m.mu.Lock()
	m.checkers[name] = checker
	m.mu.Unlock()
}

func (m *Manager) Check(ctx context.Context) types.HealthReport {
	m.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	checks := make(map[string]types.HealthCheck, len(checkers))
	var checksMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for name, checker := range checkers {
		group.Go(func() error {
			check := m.runChecker(groupCtx, name, checker)

			checksMu.Lock()
			checks[name] = check
			checksMu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	report := types.HealthReport{
		Status:    types.StatusHealthy,
		Timestamp: time.Now(),
		Checks:    checks,
	}
	if !m.startAt.IsZero() {
		report.Uptime = time.Since(m.startAt)
	}

	for _, check := range checks {
		report.Summary.Total++
		switch check.Status {
		case types.StatusHealthy:
			report.Summary.Healthy++
		case types.StatusUnhealthy:
			report.Summary.Unhealthy++
			report.Status = types.StatusUnhealthy
		default:
			report.Summary.Unknown++
			if report.Status == types.StatusHealthy {
				report.Status = types.StatusUnknown
			}
		}
	}

	return report
}

func (m *Manager) runChecker(ctx context.Context, name string, checker types.HealthChecker) (check types.HealthCheck) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("Health checker panicked",
				zap.String("checker", name),
				zap.Any("panic", rec))

			check = types.HealthCheck{
				Name:      name,
				Status:    types.StatusUnhealthy,
				Message:   "checker panicked",
				LastCheck: start,
				Duration:  time.Since(start),
			}
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	done := make(chan types.HealthCheck, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- types.HealthCheck{
					Name:    name,
					Status:  types.StatusUnhealthy,
					Message: "checker panicked",
				}
			}
		}()
		done <- checker(checkCtx)
	}()

	select {
	case check = <-done:
	case <-checkCtx.Done():
		check = types.HealthCheck{
			Name:    name,
			Status:  types.StatusUnhealthy,
			Message: types.ErrHealthCheckTimeout.Error(),
		}
	}

	check.Name = name
	check.LastCheck = start
	check.Duration = time.Since(start)
	if check.Status == "" {
		check.Status = types.StatusUnknown
	}
	return check
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	m.startAt = time.Now()

	m.mu.RLock()
	registered := len(m.checkers)
	m.mu.RUnlock()

	m.logger.Info("Health manager started", zap.Int("checkers", registered))
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.cancel()

	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}
