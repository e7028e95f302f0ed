package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
	"github.com/tabgate/tabgate/utils"
)

// StatsProvider is what the admin surface needs from the gateway: a combined
// stats snapshot and the cache flush operation.
type StatsProvider interface {
	Stats() types.Result
	FlushCache() types.Result
}

// registryHolder is implemented by the prometheus metrics backend; other
// backends serve their JSON snapshot instead.
type registryHolder interface {
	Registry() *prometheus.Registry
}

// AdminServer is the local diagnostics endpoint. It is off by default and
// binds to localhost; it carries no auth and must not be exposed publicly.
type AdminServer struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	metrics     types.MetricsManager
	health      types.HealthManager
	stats       StatsProvider
	config      *types.AdminConfig
	server      *fasthttp.Server
	promHandler fasthttp.RequestHandler
	started     int32
}

func NewAdminServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	healthManager types.HealthManager,
	stats StatsProvider,
) (*AdminServer, error) {
	adminConfig := config.GetConfig().Admin
	if adminConfig == nil {
		adminConfig = &types.AdminConfig{}
	}

	serverCtx, cancel := context.WithCancel(ctx)

	srv := &AdminServer{
		ctx:     serverCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		health:  healthManager,
		stats:   stats,
		config:  adminConfig,
	}

	if holder, ok := metrics.(registryHolder); ok {
		srv.promHandler = fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(holder.Registry(), promhttp.HandlerOpts{}))
	}

	srv.server = &fasthttp.Server{
		Handler:      srv.route,
		Name:         "tabgate-admin",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return srv, nil
}

func (s *AdminServer) Start() error {
	if !s.config.Enabled {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(addr); err != nil {
			if atomic.LoadInt32(&s.started) == 1 {
				s.logger.Error("Admin server stopped unexpectedly", zap.Error(err))
			}
		}
	}()

	s.logger.Info("Admin server started", zap.String("addr", addr))
	return nil
}

func (s *AdminServer) Stop() error {
	if !s.config.Enabled {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	s.cancel()

	if err := s.server.Shutdown(); err != nil {
		return types.WrapError(err, "failed to shut down admin server")
	}

	s.logger.Info("Admin server stopped")
	return nil
}

func (s *AdminServer) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}

func (s *AdminServer) route(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())

	switch {
	case method == fasthttp.MethodGet && path == "/metrics":
		s.handleMetrics(ctx)
	case method == fasthttp.MethodGet && path == "/health":
		s.handleHealth(ctx)
	case method == fasthttp.MethodGet && path == "/stats":
		s.handleStats(ctx)
	case method == fasthttp.MethodPost && path == "/cache/flush":
		s.handleCacheFlush(ctx)
	default:
		ctx.SetStatusCode(http.StatusNotFound)
		s.writeJSON(ctx, types.FailureResult(types.ErrorTypeDispatchError, "not found"))
	}
}

func (s *AdminServer) handleMetrics(ctx *fasthttp.RequestCtx) {
	if s.promHandler != nil {
		s.promHandler(ctx)
		return
	}

	data, err := s.metrics.GetMetrics()
	if err != nil {
		ctx.SetStatusCode(http.StatusInternalServerError)
		s.writeJSON(ctx, types.FailureResult(types.ErrorTypeDispatchError, err.Error()))
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func (s *AdminServer) handleHealth(ctx *fasthttp.RequestCtx) {
	report := s.health.Check(s.ctx)

	if report.Status != types.StatusHealthy {
		ctx.SetStatusCode(http.StatusServiceUnavailable)
	}

	data, err := utils.Marshal(report)
	if err != nil {
		ctx.SetStatusCode(http.StatusInternalServerError)
		s.writeJSON(ctx, types.FailureResult(types.ErrorTypeDispatchError, err.Error()))
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func (s *AdminServer) handleStats(ctx *fasthttp.RequestCtx) {
	s.writeJSON(ctx, s.stats.Stats())
}

func (s *AdminServer) handleCacheFlush(ctx *fasthttp.RequestCtx) {
	result := s.stats.FlushCache()

	s.logger.Info("Cache flushed via admin endpoint",
		zap.Any("cleared", result["cleared"]))
	s.writeJSON(ctx, result)
}

func (s *AdminServer) writeJSON(ctx *fasthttp.RequestCtx, result types.Result) {
	data, err := utils.Marshal(result)
	if err != nil {
		ctx.SetStatusCode(http.StatusInternalServerError)
		ctx.SetBodyString(`{"success":false,"error":"marshal failure"}`)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}
