// Package errors provides structured error types for the isolate runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a detail message, an optional cause chain, and for
// value conversions the Go and WIT type names involved.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
//		Path("args", "0").
//		Detail("expected number, got %s", kind).
//		Build()
//
// Or use convenience constructors for the isolate/worker taxonomy:
//
//	err := errors.Setup("resolve main module", cause)
//	err := errors.UnknownWorker(id)
//
// Matching compares Phase and Kind only, so the exported sentinels work
// with errors.Is:
//
//	if errors.Is(err, errors.ErrUnknownWorker) { ... }
package errors
