package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabgate/tabgate/logger"
	"github.com/tabgate/tabgate/metrics"
	"github.com/tabgate/tabgate/types"
)

func newTestDispatcher(t *testing.T, manifest *Manifest) *Manager {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	mm, err := metrics.NewMemoryMetrics(context.Background(), log, &types.MetricsConfig{Type: "memory"})
	require.NoError(t, err)

	m, err := NewManager(context.Background(), log, mm, manifest)
	require.NoError(t, err)
	return m
}

func TestClassifyIsTotal(t *testing.T) {
	m := newTestDispatcher(t, nil)

	assert.Equal(t, types.CategoryMetadata, m.Classify("list_tables"))
	assert.Equal(t, types.CategoryAnalysis, m.Classify("execute_query"))
	assert.Equal(t, types.CategoryPerformance, m.Classify("trace_query"))

	// Unknown names fall back to the default category, never fail.
	assert.Equal(t, types.DefaultCategory, m.Classify("completely_unknown"))
	assert.Equal(t, types.DefaultCategory, m.Classify(""))
}

func TestManifestConflictDetected(t *testing.T) {
	manifest := NewManifest()
	require.NoError(t, manifest.Register("op", types.CategoryAnalysis, true))

	// Re-registering identically is a no-op.
	require.NoError(t, manifest.Register("op", types.CategoryAnalysis, true))

	err := manifest.Register("op", types.CategoryMetadata, true)
	assert.True(t, types.IsError(err, types.ErrManifestConflict))
}

func TestManifestRejectsUnknownCategory(t *testing.T) {
	manifest := NewManifest()
	err := manifest.Register("op", types.Category("bogus"), false)
	assert.Error(t, err)
}

func TestDispatchUnknownCategoryFailure(t *testing.T) {
	m := newTestDispatcher(t, nil)
	// No handlers registered at all.

	result := m.Dispatch(context.Background(), "list_tables", nil)
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeUnknownCategory, result.ErrorType())
}

func TestDispatchRoutesToHandler(t *testing.T) {
	m := newTestDispatcher(t, nil)

	var gotOperation string
	handler := types.HandlerFunc(func(ctx context.Context, operation string, args map[string]interface{}) types.Result {
		gotOperation = operation
		result := types.SuccessResult()
		result["echo"] = args["value"]
		return result
	})
	require.NoError(t, m.RegisterHandler(types.CategoryMetadata, handler))

	result := m.Dispatch(context.Background(), "list_tables", map[string]interface{}{"value": 42})
	assert.True(t, result.IsSuccess())
	assert.Equal(t, "list_tables", gotOperation)
	assert.Equal(t, 42, result["echo"])
}

func TestDispatchConvertsPanicToStructuredFailure(t *testing.T) {
	m := newTestDispatcher(t, nil)

	require.NoError(t, m.RegisterHandler(types.CategoryMetadata, types.HandlerFunc(
		func(ctx context.Context, operation string, args map[string]interface{}) types.Result {
			panic("handler exploded")
		})))

	var result types.Result
	assert.NotPanics(t, func() {
		result = m.Dispatch(context.Background(), "list_tables", nil)
	})
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeDispatchError, result.ErrorType())
}

func TestDispatchConvertsNilResult(t *testing.T) {
	m := newTestDispatcher(t, nil)

	require.NoError(t, m.RegisterHandler(types.CategoryMetadata, types.HandlerFunc(
		func(ctx context.Context, operation string, args map[string]interface{}) types.Result {
			return nil
		})))

	result := m.Dispatch(context.Background(), "list_tables", nil)
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeDispatchError, result.ErrorType())
}

func TestDispatchPassesThroughNotImplemented(t *testing.T) {
	m := newTestDispatcher(t, nil)

	require.NoError(t, m.RegisterHandler(types.CategoryMetadata, types.HandlerFunc(
		func(ctx context.Context, operation string, args map[string]interface{}) types.Result {
			return types.NotImplementedResult(operation)
		})))

	result := m.Dispatch(context.Background(), "describe_table", nil)
	assert.False(t, result.IsSuccess())
	assert.Equal(t, types.ErrorTypeHandlerNotImplemented, result.ErrorType())
}

func TestRegisterHandlerValidation(t *testing.T) {
	m := newTestDispatcher(t, nil)

	assert.ErrorIs(t, m.RegisterHandler(types.CategoryMetadata, nil), types.ErrHandlerIsNil)
	assert.Error(t, m.RegisterHandler(types.Category("bogus"), types.HandlerFunc(
		func(ctx context.Context, operation string, args map[string]interface{}) types.Result {
			return types.SuccessResult()
		})))
}

func TestManifestCacheableFlags(t *testing.T) {
	manifest, err := DefaultManifest()
	require.NoError(t, err)

	assert.True(t, manifest.Cacheable("list_tables"))
	assert.True(t, manifest.Cacheable("execute_query"))
	assert.False(t, manifest.Cacheable("connection_status"))
	assert.False(t, manifest.Cacheable("unknown_operation"))
}
