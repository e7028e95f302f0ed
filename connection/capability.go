package connection

import (
	"go.uber.org/zap"

	"github.com/tabgate/tabgate/types"
)

// ProbeFunc checks whether the native interop bridge can be loaded. It runs
// exactly once, at construction time.
type ProbeFunc func() (bool, string)

// ProbeCapability evaluates the bridge once and freezes the outcome. Every
// consumer that needs the bridge receives the resulting Capability value
// explicitly instead of consulting process globals.
func ProbeCapability(logger types.Logger, probe ProbeFunc) types.Capability {
	if probe == nil {
		return types.Capability{Available: false, Detail: "no bridge probe configured"}
	}

	available, detail := probe()
	if !available {
		logger.Warn("Native bridge unavailable", zap.String("detail", detail))
	} else {
		logger.Debug("Native bridge available", zap.String("detail", detail))
	}

	return types.Capability{Available: available, Detail: detail}
}
