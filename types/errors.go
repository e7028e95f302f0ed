package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrComponentNotRunning     = errors.New("component not running")
	ErrComponentAlreadyRunning = errors.New("component already running")
	ErrGatewayNotRunning       = errors.New("gateway not running")
	ErrGatewayAlreadyRunning   = errors.New("gateway already running")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheIsDisabled       = errors.New("cache is disabled")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrAcquireTimeout    = errors.New("acquire timeout")
	ErrInvalidBucketSpec = errors.New("invalid bucket spec")
)

var (
	ErrNoInstances       = errors.New("no analytical engine instances found")
	ErrBridgeUnavailable = errors.New("native bridge unavailable")
	ErrConnectFailed     = errors.New("connect failed")
)

var (
	ErrManifestConflict = errors.New("operation mapped to more than one category")
	ErrUnknownCategory  = errors.New("no handler registered for category")
	ErrHandlerIsNil     = errors.New("handler is nil")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsNotRunning  = errors.New("metrics manager not running")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronJobFailed         = errors.New("cron job failed")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
