package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
)

const (
	shutdownTimeout = 10 * time.Second
	jobTimeout      = 5 * time.Minute
)

// Manager runs the gateway's periodic maintenance: idle bucket pruning and
// stats snapshots. Jobs run with a panic barrier and a per-run timeout so a
// stuck job cannot wedge the scheduler.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	metrics types.MetricsManager
	cron       *cron.Cron
	jobs       map[string]*types.JobEntry
	jobTimeout time.Duration
	mu         sync.RWMutex
	started    int32
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CronManager, error) {
	cronConfig := config.GetConfig().Cron

	timezone := time.UTC
	if cronConfig != nil && cronConfig.Timezone != "" {
		loc, err := time.LoadLocation(cronConfig.Timezone)
		if err != nil {
			logger.Warn("Unknown cron timezone, falling back to UTC",
				zap.String("timezone", cronConfig.Timezone))
		} else {
			timezone = loc
		}
	}

	cronL := cronLogger{logger: logger}
	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronL)),
		),
		jobs:       make(map[string]*types.JobEntry),
		jobTimeout: jobTimeout,
	}, nil
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	entryID, err := m.cron.AddFunc(spec, m.wrapJob(jobName, job))
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "job %s: %v", jobName, err)
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		AddedAt: time.Now(),
	}
	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
	m.jobs[jobName] = entry

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))
	return nil
}

func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]types.JobEntry, 0, len(m.jobs))
	for _, entry := range m.jobs {
		snapshot := *entry
		if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
			snapshot.NextRun = cronEntry.Next
		}
		entries = append(entries, snapshot)
	}
	return entries
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	m.cron.Start()

	m.mu.RLock()
	registered := len(m.jobs)
	m.mu.RUnlock()

	m.logger.Info("Cron manager started", zap.Int("jobs", registered))
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	m.cancel()

	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
		m.logger.Info("Cron manager stopped")
	case <-time.After(shutdownTimeout):
		m.logger.Warn("Cron manager stop timeout, jobs may not have finished")
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		start := time.Now()

		m.mu.Lock()
		if entry, exists := m.jobs[jobName]; exists {
			entry.LastRun = start
		}
		m.mu.Unlock()

		done := make(chan error, 1)

		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.logger.Error("Cron job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", rec))
					done <- types.Errorf(types.ErrCronJobFailed, "job panic: %v", rec)
					return
				}
				done <- nil
			}()
			job()
		}()

		var jobErr error
		select {
		case jobErr = <-done:
		case <-time.After(m.jobTimeout):
			jobErr = types.NewErrorf("job timeout after %v", m.jobTimeout)
			m.logger.Error("Cron job timed out", zap.String("job_name", jobName))
		case <-m.ctx.Done():
			// Shutdown: give the job the same bound instead of waiting on it
			// forever; a wedged job must not pin the scheduler goroutine.
			select {
			case jobErr = <-done:
			case <-time.After(m.jobTimeout):
				jobErr = types.NewErrorf("job timeout after %v", m.jobTimeout)
				m.logger.Error("Cron job timed out during shutdown", zap.String("job_name", jobName))
			}
		}

		duration := time.Since(start)

		result := "success"
		if jobErr != nil {
			result = "error"
		}

		m.metrics.Counter("cron_job_executions_total", map[string]string{
			"job_name": jobName,
			"result":   result,
		}).Inc()
		m.metrics.Histogram("cron_job_duration_seconds",
			[]float64{0.01, 0.1, 1.0, 10.0, 60.0},
			map[string]string{"job_name": jobName},
		).Observe(duration.Seconds())

		m.mu.Lock()
		if entry, exists := m.jobs[jobName]; exists {
			entry.RunCount++
			entry.LastDuration = duration
			entry.LastError = ""
			if jobErr != nil {
				entry.LastError = jobErr.Error()
			}
		}
		m.mu.Unlock()

		m.logger.Debug("Cron job finished",
			zap.String("job_name", jobName),
			zap.String("result", result),
			zap.Duration("duration", duration))
	}
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(toFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
