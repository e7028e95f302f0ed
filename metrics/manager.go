package metrics

import (
	"context"

	"github.com/tabgate/tabgate/types"
)

var customMetricsCreators = make(map[string]types.MetricsManagerCreator)

func RegisterMetricsManager(metricsName string, creator types.MetricsManagerCreator) {
	customMetricsCreators[metricsName] = creator
}

// NewMetricsManager builds the configured backend. A disabled metrics section
// yields the memory backend anyway: instrumented wrappers always have a
// working sink and the admin surface stays consistent, it just is not scraped.
func NewMetricsManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil {
		metricsConfig = &types.MetricsConfig{Type: "memory"}
	}

	metricsType := metricsConfig.Type
	if !metricsConfig.Enabled || metricsType == "" {
		metricsType = "memory"
	}

	switch metricsType {
	case "memory":
		return NewMemoryMetrics(ctx, logger, metricsConfig)
	case "prometheus":
		return NewPrometheusMetrics(ctx, logger, metricsConfig)
	default:
		if creator, exists := customMetricsCreators[metricsType]; exists {
			return creator(metricsConfig)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsType)
	}
}
