package types

type ConfigManager interface {
	Load() error
	GetConfig() *GatewayConfig
}

type GatewayConfig struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Version    string            `yaml:"version" json:"version"`
	Logger     *LoggerConfig     `yaml:"logger" json:"logger"`
	Cache      *CacheConfig      `yaml:"cache" json:"cache"`
	RateLimit  *RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Connection *ConnectionConfig `yaml:"connection" json:"connection"`
	Metrics    *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Health     *HealthConfig     `yaml:"health" json:"health"`
	Admin      *AdminConfig      `yaml:"admin" json:"admin"`
	Cron       *CronConfig       `yaml:"cron" json:"cron"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

// CacheConfig configures the result cache. TTLSeconds at or below zero
// disables caching entirely.
type CacheConfig struct {
	Type       string      `yaml:"type" json:"type" validate:"required"`
	MaxItems   int         `yaml:"max_items" json:"max_items" validate:"min=1"`
	TTLSeconds int         `yaml:"ttl_seconds" json:"ttl_seconds"`
	Config     interface{} `yaml:"config" json:"config"`
}

// RateLimitConfig configures the global bucket plus per-operation overrides.
// Operation names absent from ToolLimits consume from the global bucket only.
type RateLimitConfig struct {
	GlobalCallsPerSecond float64            `yaml:"global_calls_per_second" json:"global_calls_per_second" validate:"gt=0"`
	GlobalBurst          int                `yaml:"global_burst" json:"global_burst" validate:"min=1"`
	ToolLimits           map[string]float64 `yaml:"tool_limits" json:"tool_limits" validate:"omitempty,dive,gt=0"`
	ToolBursts           map[string]int     `yaml:"tool_bursts" json:"tool_bursts" validate:"omitempty,dive,min=1"`
	AcquireTimeoutMs     int                `yaml:"acquire_timeout_ms" json:"acquire_timeout_ms" validate:"min=0"`
}

type ConnectionConfig struct {
	InstanceIndex int `yaml:"instance_index" json:"instance_index" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}
