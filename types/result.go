package types

// Structured failure classes carried in the "error_type" field of a Result.
const (
	ErrorTypeNoInstances           = "no_instances"
	ErrorTypeUnknownCategory       = "unknown_category"
	ErrorTypeDispatchError         = "dispatch_error"
	ErrorTypeHandlerNotImplemented = "handler_not_implemented"
	ErrorTypeBridgeNotAvailable    = "amo_not_available"
	ErrorTypeRateLimited           = "rate_limited"
)

// Result is the uniform payload shape of this layer. Every result carries at
// minimum "success"; failures add "error" and "error_type"; cache-served
// successes add a "cache" sub-map.
type Result map[string]interface{}

func SuccessResult() Result {
	return Result{"success": true}
}

func FailureResult(errorType, message string) Result {
	return Result{
		"success":    false,
		"error":      message,
		"error_type": errorType,
	}
}

func NotImplementedResult(operation string) Result {
	return FailureResult(ErrorTypeHandlerNotImplemented, "operation not implemented: "+operation)
}

func (r Result) IsSuccess() bool {
	ok, _ := r["success"].(bool)
	return ok
}

func (r Result) ErrorType() string {
	s, _ := r["error_type"].(string)
	return s
}

// Copy returns a deep copy: nested maps and slices are duplicated all the
// way down, so mutating either side never reaches the other. Scalar values
// are shared as-is.
func (r Result) Copy() Result {
	if r == nil {
		return nil
	}
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case Result:
		return typed.Copy()
	case map[string]interface{}:
		inner := make(map[string]interface{}, len(typed))
		for k, nested := range typed {
			inner[k] = copyValue(nested)
		}
		return inner
	case []interface{}:
		inner := make([]interface{}, len(typed))
		for i, nested := range typed {
			inner[i] = copyValue(nested)
		}
		return inner
	}
	return v
}
