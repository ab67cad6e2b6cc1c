package engine

import (
	"io"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	isolateruntime "github.com/wippyai/isolate-runtime"
	"github.com/wippyai/isolate-runtime/errors"
)

// Config configures a new isolate.
type Config struct {
	Stdout           io.Writer
	Stderr           io.Writer
	Shared           isolateruntime.SharedRegion
	OpHandler        OpHandler
	DynamicImport    DynamicImportHook
	Name             string
	MaxCallStackSize int
}

// Isolate is one engine instance together with its registered state.
// All methods except Terminate must be called from the owning goroutine.
type Isolate struct {
	vm        *goja.Runtime
	state     *State
	core      *goja.Object
	bridge    bridge
	closeOnce sync.Once
}

const microtaskHelper = `(function () {
	const resolved = Promise.resolve();
	return function (fn) { resolved.then(function () { fn(); }); };
})()`

// NewIsolate creates an engine runtime, registers its state and installs
// the callback bridge as the global "core" object.
func NewIsolate(cfg Config) (*Isolate, error) {
	vm := goja.New()
	if cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}

	st := newState(vm, cfg)
	st.id = registerState(st)
	if st.id == 0 {
		return nil, errors.Setup("register isolate", nil)
	}

	iso := &Isolate{
		vm:     vm,
		state:  st,
		bridge: bridge{id: st.id},
	}

	if err := iso.init(); err != nil {
		iso.Close()
		return nil, errors.Setup("initialize isolate", err)
	}

	st.Logger().Debug("isolate created", zap.String("name", cfg.Name))
	return iso, nil
}

func (i *Isolate) init() error {
	st := i.state

	ctor, ok := i.vm.Get("Uint8Array").(*goja.Object)
	if !ok {
		return errors.NotInitialized(errors.PhaseSetup, "Uint8Array constructor")
	}
	st.uint8Array = ctor

	helper, err := i.vm.RunString(microtaskHelper)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(helper)
	if !ok {
		return errors.NotInitialized(errors.PhaseSetup, "microtask helper")
	}
	st.microtask = fn

	i.core = i.vm.NewObject()
	if err := i.bridge.install(st, i.core); err != nil {
		return err
	}
	if err := i.vm.Set("core", i.core); err != nil {
		return err
	}

	i.vm.SetPromiseRejectionTracker(i.bridge.promiseRejectTracker)
	return nil
}

// ID returns the isolate's registry id.
func (i *Isolate) ID() IsolateID { return i.state.id }

// State returns the isolate state.
func (i *Isolate) State() *State { return i.state }

// Runtime returns the engine runtime.
func (i *Isolate) Runtime() *goja.Runtime { return i.vm }

// Core returns the object the bridge is installed on.
func (i *Isolate) Core() *goja.Object { return i.core }

// Execute compiles and runs a classic script. Uncaught exceptions are
// returned as *ErrorInfo and recorded as the last exception.
func (i *Isolate) Execute(name, source string) (goja.Value, error) {
	prg, err := goja.Compile(name, source, false)
	if err != nil {
		info := compileErrorInfo(name, err)
		i.state.lastErr = info
		return nil, info
	}
	return i.RunProgram(prg)
}

// RunProgram runs a precompiled program.
func (i *Isolate) RunProgram(prg *goja.Program) (goja.Value, error) {
	if i.state.terminated.Load() {
		return nil, errors.Terminated()
	}
	v, err := i.vm.RunProgram(prg)
	if err != nil {
		return nil, i.state.recordError(err)
	}
	return v, nil
}

// Call invokes fn with args. Errors are converted like Execute's.
func (i *Isolate) Call(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	if i.state.terminated.Load() {
		return nil, errors.Terminated()
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "value is not callable")
	}
	if this == nil {
		this = goja.Undefined()
	}
	v, err := callable(this, args...)
	if err != nil {
		return nil, i.state.recordError(err)
	}
	return v, nil
}

// Terminate requests termination. It is safe to call from any goroutine and
// more than once. Running script is interrupted and every later entry into
// the isolate fails with ErrTerminated.
func (i *Isolate) Terminate() {
	if i.state.terminated.CompareAndSwap(false, true) {
		i.vm.Interrupt(errors.Terminated())
	}
}

// Terminated reports whether Terminate was called.
func (i *Isolate) Terminated() bool { return i.state.terminated.Load() }

// Close unregisters the isolate. Callbacks that fire afterwards fail the
// registry lookup.
func (i *Isolate) Close() {
	i.closeOnce.Do(func() {
		i.state.Logger().Debug("isolate closed")
		unregisterState(i.state.id)
	})
}
