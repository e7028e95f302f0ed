package gateway

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tabgate/tabgate/cache"
	"github.com/tabgate/tabgate/config"
	"github.com/tabgate/tabgate/connection"
	"github.com/tabgate/tabgate/cron"
	"github.com/tabgate/tabgate/dispatch"
	"github.com/tabgate/tabgate/health"
	"github.com/tabgate/tabgate/logger"
	"github.com/tabgate/tabgate/metrics"
	"github.com/tabgate/tabgate/ratelimit"
	"github.com/tabgate/tabgate/server"
	"github.com/tabgate/tabgate/types"
)

const (
	bucketPruneSchedule   = "0 */5 * * * *"
	bucketPruneMaxIdle    = 30 * time.Minute
	statsSnapshotSchedule = "30 * * * * *"
)

// Options carries the external collaborators the gateway cannot build itself.
type Options struct {
	// ConfigPath points at the YAML config file. Leave empty and set Config to
	// run from a programmatic configuration instead.
	ConfigPath string
	Config     *types.GatewayConfig

	// Connector and State own the live engine connection. Both are required.
	Connector types.Connector
	State     types.StateManager

	// BridgeProbe checks native bridge availability once at startup. A nil
	// probe means the bridge is reported unavailable.
	BridgeProbe connection.ProbeFunc

	// Manifest overrides the stock operation set. Handlers are registered per
	// category on the dispatcher.
	Manifest *dispatch.Manifest
	Handlers map[types.Category]types.Handler
}

// Service assembles and runs the gateway: config, logging, metrics, cache,
// limiter, readiness, dispatcher, plus the cron and admin sidecars.
type Service struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container *Container
	gateway   *Gateway
	admin     *server.AdminServer
	log       types.LoggerManager

	// components in start order; stopped in reverse
	components []types.LifecycleManager
}

func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.Connector == nil {
		return nil, types.NewErrorf("options: connector is required")
	}
	if opts.State == nil {
		return nil, types.NewErrorf("options: state manager is required")
	}

	serviceCtx, cancel := context.WithCancel(ctx)
	container := NewContainer()

	svc := &Service{
		ctx:       serviceCtx,
		cancel:    cancel,
		container: container,
	}

	if err := svc.build(opts); err != nil {
		cancel()
		return nil, err
	}

	return svc, nil
}

func (s *Service) build(opts Options) error {
	var configManager types.ConfigManager
	var err error

	if opts.Config != nil {
		configManager, err = config.NewStaticManager(s.ctx, opts.Config)
	} else {
		configManager, err = config.NewConfigurationManager(s.ctx, opts.ConfigPath)
	}
	if err != nil {
		return types.WrapError(err, "failed to build config manager")
	}
	s.container.SetConfig(configManager)

	loggerManager, err := logger.NewManager(s.ctx, configManager)
	if err != nil {
		return types.WrapError(err, "failed to build logger")
	}
	s.log = loggerManager
	s.container.SetLogger(loggerManager)

	metricsManager, err := metrics.NewMetricsManager(s.ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to build metrics manager")
	}
	s.container.SetMetrics(metricsManager)

	healthManager := health.NewManager(s.ctx, loggerManager)
	s.container.SetHealth(healthManager)

	resultCache, err := cache.NewResultCache(s.ctx, configManager, loggerManager, metricsManager)
	if err != nil {
		return types.WrapError(err, "failed to build result cache")
	}
	s.container.SetResultCache(resultCache)

	limiter, err := ratelimit.NewManager(s.ctx, configManager, loggerManager, metricsManager)
	if err != nil {
		return types.WrapError(err, "failed to build rate limiter")
	}
	s.container.SetRateLimiter(limiter)

	capability := connection.ProbeCapability(loggerManager, opts.BridgeProbe)
	readiness, err := connection.NewManager(s.ctx, configManager, loggerManager, metricsManager,
		opts.Connector, opts.State, capability)
	if err != nil {
		return types.WrapError(err, "failed to build connection readiness manager")
	}
	s.container.SetReadiness(readiness)

	manifest := opts.Manifest
	if manifest == nil {
		manifest, err = dispatch.DefaultManifest()
		if err != nil {
			return types.WrapError(err, "failed to build operation manifest")
		}
	}

	dispatcher, err := dispatch.NewManager(s.ctx, loggerManager, metricsManager, manifest)
	if err != nil {
		return types.WrapError(err, "failed to build dispatcher")
	}
	for category, handler := range opts.Handlers {
		if err := dispatcher.RegisterHandler(category, handler); err != nil {
			return types.WrapError(err, "failed to register handler")
		}
	}
	s.container.SetDispatcher(dispatcher)

	s.gateway = NewGateway(s.container, manifest, opts.Connector)

	cronManager, err := cron.NewManager(s.ctx, configManager, loggerManager, metricsManager)
	if err != nil {
		return types.WrapError(err, "failed to build cron manager")
	}
	s.container.SetCron(cronManager)

	if err := s.registerMaintenanceJobs(cronManager, limiter, resultCache); err != nil {
		return err
	}

	s.admin, err = server.NewAdminServer(s.ctx, configManager, loggerManager,
		metricsManager, healthManager, s.gateway)
	if err != nil {
		return types.WrapError(err, "failed to build admin server")
	}

	s.registerHealthCheckers(healthManager, readiness, resultCache, limiter)

	s.components = []types.LifecycleManager{
		loggerManager,
		metricsManager,
		healthManager,
		resultCache,
		limiter,
		readiness,
		dispatcher,
	}
	if cronEnabled(configManager) {
		s.components = append(s.components, cronManager)
	}
	s.components = append(s.components, s.admin)

	return nil
}

// Gateway exposes the invocation pipeline to the host.
func (s *Service) Gateway() *Gateway {
	return s.gateway
}

func (s *Service) Container() *Container {
	return s.container
}

func (s *Service) Start() error {
	cfg := s.container.Config().GetConfig()
	s.log.Info("Starting gateway",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version))

	for i, component := range s.components {
		if err := component.Start(); err != nil {
			// unwind what already started
			for j := i - 1; j >= 0; j-- {
				_ = s.components[j].Stop()
			}
			return types.WrapError(err, "failed to start component")
		}
	}

	s.log.Info("Gateway started")
	return nil
}

func (s *Service) Stop() error {
	s.log.Info("Stopping gateway")

	group := errgroup.Group{}
	for i := len(s.components) - 1; i >= 0; i-- {
		component := s.components[i]
		group.Go(func() error {
			if !component.IsRunning() {
				return nil
			}
			return component.Stop()
		})
	}

	err := group.Wait()
	s.cancel()

	if err != nil {
		return types.WrapError(err, "error during gateway shutdown")
	}

	s.log.Info("Gateway stopped")
	return nil
}

// Run starts the service and blocks until SIGINT/SIGTERM or context
// cancellation, then shuts down.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		s.log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
	}

	return s.Stop()
}

func (s *Service) registerMaintenanceJobs(cronManager types.CronManager, limiter *ratelimit.Manager, resultCache types.ResultCache) error {
	if err := cronManager.Add("prune_idle_buckets", bucketPruneSchedule, func() {
		limiter.PruneIdle(bucketPruneMaxIdle)
	}); err != nil {
		return types.WrapError(err, "failed to register bucket prune job")
	}

	if err := cronManager.Add("stats_snapshot", statsSnapshotSchedule, func() {
		stats := resultCache.Stats()
		s.log.Debug("Cache stats snapshot",
			zap.Int("size", stats.Size),
			zap.Uint64("hits", stats.Hits),
			zap.Uint64("misses", stats.Misses),
			zap.Uint64("evictions", stats.Evictions))
	}); err != nil {
		return types.WrapError(err, "failed to register stats snapshot job")
	}

	return nil
}

func (s *Service) registerHealthCheckers(healthManager types.HealthManager, readiness types.ReadinessPolicy, resultCache types.ResultCache, limiter *ratelimit.Manager) {
	healthManager.RegisterChecker("connection", func(ctx context.Context) types.HealthCheck {
		status := types.StatusHealthy
		message := "connected"
		if !readiness.IsConnected() {
			// Not connected is a degraded-but-expected state before first use.
			status = types.StatusUnknown
			message = "not connected yet"
		}
		return types.HealthCheck{Status: status, Message: message}
	})

	healthManager.RegisterChecker("cache", func(ctx context.Context) types.HealthCheck {
		stats := resultCache.Stats()
		return types.HealthCheck{
			Status: types.StatusHealthy,
			Details: map[string]interface{}{
				"size":    stats.Size,
				"enabled": stats.Enabled,
			},
		}
	})

	healthManager.RegisterChecker("rate_limiter", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: limiter.Stats(),
		}
	})
}

func cronEnabled(configManager types.ConfigManager) bool {
	cronConfig := configManager.GetConfig().Cron
	return cronConfig != nil && cronConfig.Enabled
}
