package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tabgate/tabgate/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.GatewayConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.GatewayConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(err, "config validation failed")
	}
	return nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// Defaults returns the configuration the gateway runs with when the file
// omits a section. Cache defaults follow the admission-layer contract:
// 200 items, 300 second TTL.
func (l *Loader) Defaults() *types.GatewayConfig {
	return &types.GatewayConfig{
		Name:    "tabgate",
		Version: "dev",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Type:       "memory",
			MaxItems:   200,
			TTLSeconds: 300,
		},
		RateLimit: &types.RateLimitConfig{
			GlobalCallsPerSecond: 10,
			GlobalBurst:          20,
			AcquireTimeoutMs:     int(5 * time.Second / time.Millisecond),
		},
		Connection: &types.ConnectionConfig{
			InstanceIndex: 0,
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Health: &types.HealthConfig{
			Enabled: true,
		},
		Admin: &types.AdminConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    8480,
		},
		Cron: &types.CronConfig{
			Enabled:  false,
			Timezone: "UTC",
		},
	}
}
