package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseSetup    Phase = "setup"    // isolate or worker construction
	PhaseRuntime  Phase = "runtime"  // script execution
	PhaseDispatch Phase = "dispatch" // op dispatch
	PhaseWorker   Phase = "worker"   // worker host operations
	PhaseLoad     Phase = "load"     // module loading
	PhaseResolve  Phase = "resolve"  // module resolution
	PhaseHost     Phase = "host"     // op registration
	PhaseParse    Phase = "parse"    // WIT/config parsing
)

// Kind categorizes the error
type Kind string

const (
	KindSetup             Kind = "setup"
	KindTerminal          Kind = "terminal"
	KindUncaught          Kind = "uncaught"
	KindProtocolViolation Kind = "protocol_violation"
	KindUnknownWorker     Kind = "unknown_worker"
	KindChannelClosed     Kind = "channel_closed"
	KindTerminated        Kind = "terminated"
	KindPanic             Kind = "panic"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindRegistration      Kind = "registration"
	KindPermissionDenied  Kind = "permission_denied"
	KindCompile           Kind = "compile"
	KindTypeMismatch      Kind = "type_mismatch"
	KindInstantiation     Kind = "instantiation"
	KindTrap              Kind = "trap"
)

// Sentinels for errors.Is matching. Only Phase and Kind are compared.
var (
	ErrUnknownWorker = &Error{Phase: PhaseWorker, Kind: KindUnknownWorker}
	ErrChannelClosed = &Error{Phase: PhaseWorker, Kind: KindChannelClosed}
	ErrTerminated    = &Error{Phase: PhaseRuntime, Kind: KindTerminated}
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	GoType  string
	WitType string
	Detail  string
	Path    []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.WitType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.WitType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", WIT type ")
			b.WriteString(e.WitType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("WIT type ")
			b.WriteString(e.WitType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WitType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WitType sets the WIT type name
func (b *Builder) WitType(t string) *Builder {
	b.err.WitType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the isolate/worker taxonomy

// Setup creates a setup error: construction failed before the worker was handed out.
func Setup(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseSetup,
		Kind:   KindSetup,
		Detail: detail,
		Cause:  cause,
	}
}

// Uncaught creates a non-terminal runtime error for an exception thrown
// outside top-level evaluation.
func Uncaught(cause error) *Error {
	return &Error{
		Phase: PhaseRuntime,
		Kind:  KindUncaught,
		Cause: cause,
	}
}

// Terminal creates an unrecoverable runtime error.
func Terminal(cause error) *Error {
	return &Error{
		Phase: PhaseRuntime,
		Kind:  KindTerminal,
		Cause: cause,
	}
}

// ProtocolViolation creates a protocol violation. These are defects, not
// runtime conditions, and callers panic with them.
func ProtocolViolation(detail string, args ...any) *Error {
	return New(PhaseDispatch, KindProtocolViolation).Detail(detail, args...).Build()
}

// UnknownWorker creates an unknown worker id error.
func UnknownWorker(id uint32) *Error {
	return &Error{
		Phase:  PhaseWorker,
		Kind:   KindUnknownWorker,
		Detail: fmt.Sprintf("unknown worker %d", id),
		Value:  id,
	}
}

// ChannelClosed creates a channel closed error for a worker that is gone.
func ChannelClosed(id uint32) *Error {
	return &Error{
		Phase:  PhaseWorker,
		Kind:   KindChannelClosed,
		Detail: fmt.Sprintf("worker %d channel closed", id),
		Value:  id,
	}
}

// Terminated reports that execution was interrupted by a termination request.
func Terminated() *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTerminated,
		Detail: "execution terminated",
	}
}

// Panic wraps a recovered panic value.
func Panic(phase Phase, value any) *Error {
	e := &Error{
		Phase:  phase,
		Kind:   KindPanic,
		Detail: fmt.Sprintf("panic: %v", value),
		Value:  value,
	}
	if err, ok := value.(error); ok {
		e.Cause = err
	}
	return e
}

// PermissionDenied creates a permission error for a capability.
func PermissionDenied(capability string) *Error {
	return &Error{
		Phase:  PhaseSetup,
		Kind:   KindPermissionDenied,
		Detail: fmt.Sprintf("capability %q not granted", capability),
		Value:  capability,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates an error for a component that has not been set up
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s.%s", namespace, name),
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseSetup,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Detail: detail,
		Cause:  cause,
	}
}

// Resolve creates a module resolution error
func Resolve(specifier, referrer string, cause error) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("resolve %q from %q", specifier, referrer),
		Cause:  cause,
	}
}

// Compile creates a script compilation error
func Compile(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindCompile,
		Detail: fmt.Sprintf("compile %s", name),
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
