package types

import (
	"context"
)

// Category is the handler group an operation name routes to.
type Category string

const (
	CategoryMetadata    Category = "metadata"
	CategoryAnalysis    Category = "analysis"
	CategoryPerformance Category = "performance"

	// DefaultCategory receives every name the manifest does not claim.
	DefaultCategory = CategoryMetadata
)

// Valid reports whether c is one of the known handler categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryMetadata, CategoryAnalysis, CategoryPerformance:
		return true
	}
	return false
}

// Handler executes the concrete per-tool business logic for one category.
// Implementations return structured Results and never panic on unimplemented
// operations; NotImplementedResult is the expected shape for those.
type Handler interface {
	Execute(ctx context.Context, operation string, args map[string]interface{}) Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, operation string, args map[string]interface{}) Result

func (f HandlerFunc) Execute(ctx context.Context, operation string, args map[string]interface{}) Result {
	return f(ctx, operation, args)
}

// Dispatcher classifies operation names and routes execution to category
// handlers. Classification is pure and total; Dispatch converts every handler
// failure into a structured Result instead of propagating it.
type Dispatcher interface {
	Classify(name string) Category
	Dispatch(ctx context.Context, name string, args map[string]interface{}) Result
	RegisterHandler(category Category, handler Handler) error
}
