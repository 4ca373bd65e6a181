// Package types - Service call results
package types

// ServiceError is the error variant returned by the billing service.
// It is a value the service chose to send, not a transport failure.
type ServiceError struct {
	Message string `json:"error"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}

// Result is the outcome of a billing service call: either a value or a
// service-level error. Transport failures are reported separately as Go errors.
type Result[T any] struct {
	value T
	err   *ServiceError
}

// Ok wraps a successful value
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps a service-level error message
func Fail[T any](message string) Result[T] {
	if message == "" {
		message = "unknown billing service error"
	}
	return Result[T]{err: &ServiceError{Message: message}}
}

// IsError reports whether the result is the error variant
func (r Result[T]) IsError() bool {
	return r.err != nil
}

// Value returns the success value and whether it is present
func (r Result[T]) Value() (T, bool) {
	return r.value, r.err == nil
}

// Err returns the service error, or nil for a success
func (r Result[T]) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Unwrap returns the value or the service error
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}
