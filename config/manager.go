package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tabgate/tabgate/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.GatewayConfig]
	configPath  string
	loader      *Loader
	state       atomic.Value
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	cm.state.Store(StateStopped)

	if err := cm.Load(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager wraps an already-built config, used by tests and by hosts
// that assemble configuration programmatically. The config is validated the
// same way a file load would be.
func NewStaticManager(ctx context.Context, config *types.GatewayConfig) (*ConfigurationManager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	cm.state.Store(StateStopped)

	if err := cm.loader.Validate(config); err != nil {
		cancel()
		return nil, err
	}
	cm.config.Store(config)

	return cm, nil
}

func (cm *ConfigurationManager) Start() error {
	if !cm.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrComponentAlreadyRunning
	}
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrComponentNotRunning
	}

	cm.cancel()
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.state.Load().(State) == StateRunning
}

func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigInvalidPath
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.config.Store(config)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.GatewayConfig {
	return cm.config.Load()
}
