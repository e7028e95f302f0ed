package cron

import (
	"context"
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

func (c *staticConfig) Load() error { return nil }

func (c *staticConfig) GetConfig() *types.GatewayConfig { return c.config }

func newTestCronManager(t *testing.T) types.CronManager {
	t.Helper()

	ctx := context.Background()
	log := logger.NewZapWrapper(zap.NewNop())
	config := &staticConfig{config: &types.GatewayConfig{Name: "test"}}

	metricsManager, err := metrics.NewMetricsManager(ctx, config, log)
	require.NoError(t, err)

	m, err := NewManager(ctx, config, log, metricsManager)
	require.NoError(t, err)
	return m
}

func TestAddValidatesArguments(t *testing.T) {
	m := newTestCronManager(t)

	assert.ErrorIs(t, m.Add("", "* * * * * *", func() {}), types.ErrCronJobNameIsEmpty)
	assert.ErrorIs(t, m.Add("job", "", func() {}), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, m.Add("job", "* * * * * *", nil), types.ErrCronJobIsNil)
	assert.ErrorIs(t, m.Add("job", "not a schedule", func() {}), types.ErrCronExpressionInvalid)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	m := newTestCronManager(t)

	require.NoError(t, m.Add("prune", "0 */5 * * * *", func() {}))
	assert.ErrorIs(t, m.Add("prune", "0 */10 * * * *", func() {}), types.ErrCronJobExists)
}

func TestJobsSnapshot(t *testing.T) {
	m := newTestCronManager(t)

	require.NoError(t, m.Add("prune", "0 */5 * * * *", func() {}))
	require.NoError(t, m.Add("snapshot", "30 * * * * *", func() {}))

	jobs := m.Jobs()
	require.Len(t, jobs, 2)

	names := map[string]string{}
	for _, job := range jobs {
		names[job.Name] = job.Spec
		assert.False(t, job.AddedAt.IsZero())
	}
	assert.Equal(t, "0 */5 * * * *", names["prune"])
	assert.Equal(t, "30 * * * * *", names["snapshot"])
}

func TestWrappedJobIsBoundedDuringShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.NewZapWrapper(zap.NewNop())
	config := &staticConfig{config: &types.GatewayConfig{Name: "test"}}

	metricsManager, err := metrics.NewMetricsManager(ctx, config, log)
	require.NoError(t, err)

	cm, err := NewManager(ctx, config, log, metricsManager)
	require.NoError(t, err)
	m := cm.(*Manager)
	m.jobTimeout = 50 * time.Millisecond

	require.NoError(t, m.Add("stuck", "* * * * * *", func() {}))

	// Shutdown while a run is in flight and its job never returns: the
	// wrapper must give up after the job timeout instead of blocking the
	// scheduler goroutine forever.
	cancel()

	returned := make(chan struct{})
	go func() {
		m.wrapJob("stuck", func() { <-make(chan struct{}) })()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("wrapped job did not return after shutdown")
	}

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].LastError, "timeout")
}

func TestLifecycle(t *testing.T) {
	m := newTestCronManager(t)

	assert.False(t, m.IsRunning())
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrComponentAlreadyRunning)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.ErrorIs(t, m.Stop(), types.ErrComponentNotRunning)
}
