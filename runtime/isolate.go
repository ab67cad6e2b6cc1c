package runtime

import (
	"context"
	stderrors "errors"
	"io"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	isolateruntime "github.com/wippyai/isolate-runtime"
	"github.com/wippyai/isolate-runtime/engine"
	"github.com/wippyai/isolate-runtime/errors"
)

// IsolateConfig configures one isolate.
type IsolateConfig struct {
	// Shared is exposed to guest code as core.shared. When nil and
	// Config.SharedMemorySize is set, a fresh region of that size is used.
	Shared isolateruntime.SharedRegion
	Stdout io.Writer
	Stderr io.Writer
	Name   string
	// Referrer is the base URL for specifiers passed to ExecuteModule.
	// Defaults to the runtime's BaseURL.
	Referrer string
	// Worker bootstraps the worker runtime (self, name, postMessage, close,
	// onmessage) instead of the main runtime.
	Worker bool
	// UseNamespace keeps the core object visible in a worker.
	UseNamespace bool
}

// Isolate is an engine isolate bound to a runtime, with its event loop.
// It belongs to the goroutine that creates it; only Submit and Terminate
// may be called from elsewhere.
type Isolate struct {
	ctx       context.Context
	rt        *Runtime
	engine    *engine.Isolate
	loop      *EventLoop
	state     *OpState
	cancel    context.CancelFunc
	keepAlive func() bool
	log       *zap.Logger
	modules   map[string]*engine.Module
	name      string
	referrer  string
	mainURL   string
	closeOnce sync.Once
}

// NewIsolate creates and bootstraps an isolate. ctx bounds the isolate's
// async ops and module loads; Close cancels it.
func (r *Runtime) NewIsolate(ctx context.Context, cfg IsolateConfig) (*Isolate, error) {
	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = r.stdout
	}
	if stderr == nil {
		stderr = r.stderr
	}
	shared := cfg.Shared
	if shared == nil && r.cfg.SharedMemorySize > 0 {
		shared = isolateruntime.NewBuffer(r.cfg.SharedMemorySize)
	}
	referrer := cfg.Referrer
	if referrer == "" {
		referrer = r.baseURL
	}

	ctx, cancel := context.WithCancel(ctx)
	iso := &Isolate{
		ctx:      ctx,
		cancel:   cancel,
		rt:       r,
		loop:     NewEventLoop(),
		modules:  make(map[string]*engine.Module),
		name:     cfg.Name,
		referrer: referrer,
	}
	iso.state = newOpState(iso)

	eng, err := engine.NewIsolate(engine.Config{
		Stdout:           stdout,
		Stderr:           stderr,
		Shared:           shared,
		OpHandler:        iso.dispatch,
		DynamicImport:    iso.dynamicImport,
		Name:             cfg.Name,
		MaxCallStackSize: r.cfg.MaxCallStackSize,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	iso.engine = eng
	iso.log = r.log.With(zap.Uint32("isolate", uint32(eng.ID())), zap.String("isolate_uuid", eng.State().UUID()))

	if err := iso.bootstrap(cfg); err != nil {
		iso.Close()
		return nil, errors.Setup("bootstrap isolate", err)
	}

	iso.log.Debug("isolate ready", zap.String("name", cfg.Name), zap.Bool("worker", cfg.Worker))
	return iso, nil
}

func (i *Isolate) bootstrap(cfg IsolateConfig) error {
	vm := i.engine.Runtime()
	if err := i.engine.Core().Set("ops", i.opsMap); err != nil {
		return err
	}

	prg, err := bootstrapProgram()
	if err != nil {
		return err
	}
	fn, err := i.engine.RunProgram(prg)
	if err != nil {
		return err
	}
	entry, err := i.engine.Call(fn, goja.Undefined(), i.engine.Core(), vm.GlobalObject())
	if err != nil {
		return err
	}
	entries, ok := entry.(*goja.Object)
	if !ok {
		return errors.NotInitialized(errors.PhaseSetup, "bootstrap entry points")
	}

	if cfg.Worker {
		_, err = i.engine.Call(entries.Get("bootstrapWorkerRuntime"), goja.Undefined(),
			vm.ToValue(cfg.Name), vm.ToValue(cfg.UseNamespace))
	} else {
		_, err = i.engine.Call(entries.Get("bootstrapMainRuntime"), goja.Undefined())
	}
	return err
}

// opsMap is core.ops(): the current name to id map.
func (i *Isolate) opsMap(goja.FunctionCall) goja.Value {
	vm := i.engine.Runtime()
	obj := vm.NewObject()
	for name, id := range i.rt.ops.Names() {
		_ = obj.Set(name, id)
	}
	return obj
}

// ID returns the engine registry id.
func (i *Isolate) ID() engine.IsolateID { return i.engine.ID() }

// Name returns the configured name.
func (i *Isolate) Name() string { return i.name }

// Runtime returns the owning runtime.
func (i *Isolate) Runtime() *Runtime { return i.rt }

// Engine returns the underlying engine isolate.
func (i *Isolate) Engine() *engine.Isolate { return i.engine }

// OpState returns the state handed to op handlers.
func (i *Isolate) OpState() *OpState { return i.state }

// Context returns the isolate's context.
func (i *Isolate) Context() context.Context { return i.ctx }

// Logger returns the isolate's logger.
func (i *Isolate) Logger() *zap.Logger { return i.log }

// Referrer returns the URL of the main module once one has run, and the
// configured base URL before that.
func (i *Isolate) Referrer() string {
	if i.mainURL != "" {
		return i.mainURL
	}
	return i.referrer
}

// SetKeepAlive installs a predicate that keeps Run waiting for submitted
// work while it reports true.
func (i *Isolate) SetKeepAlive(fn func() bool) { i.keepAlive = fn }

// ExecuteScript runs a classic script.
func (i *Isolate) ExecuteScript(name, source string) (goja.Value, error) {
	return i.engine.Execute(name, source)
}

// ExecuteModule resolves specifier against the isolate's referrer, loads
// it and evaluates it as the main module.
func (i *Isolate) ExecuteModule(ctx context.Context, specifier string) error {
	url, err := i.rt.resolver.Resolve(specifier, i.referrer)
	if err != nil {
		return err
	}
	source, err := i.rt.loader.Load(ctx, url)
	if err != nil {
		return err
	}
	return i.ExecuteModuleSource(url, source)
}

// ExecuteModuleSource evaluates source as the main module at url.
func (i *Isolate) ExecuteModuleSource(url, source string) error {
	i.mainURL = url
	_, err := i.evaluate(url, source, true)
	return err
}

// evaluate compiles and evaluates a module once per URL.
func (i *Isolate) evaluate(url, source string, main bool) (*goja.Object, error) {
	if m, ok := i.modules[url]; ok {
		return i.engine.EvaluateModule(m)
	}
	m, err := i.engine.CompileModule(url, source, main)
	if err != nil {
		return nil, err
	}
	i.modules[url] = m
	return i.engine.EvaluateModule(m)
}

// Submit queues task on the isolate's loop. Safe from any goroutine.
func (i *Isolate) Submit(task func() error) bool {
	return i.loop.Submit(task)
}

// Stop ends Run after the current task.
func (i *Isolate) Stop() { i.loop.Stop() }

// Run drives the event loop until no work is left, Stop is called, or a
// task fails. Unhandled rejections are checked after every task and fail
// the loop.
func (i *Isolate) Run(ctx context.Context) error {
	if err := i.checkpoint(); err != nil {
		return err
	}
	err := i.loop.Run(ctx, i.keepAlive, i.checkpoint)
	if err != nil && i.engine.Terminated() && !stderrors.Is(err, errors.ErrTerminated) {
		return errors.Wrap(errors.PhaseRuntime, errors.KindTerminated, err, "execution terminated")
	}
	return err
}

func (i *Isolate) checkpoint() error {
	return i.engine.State().CheckUnhandledRejections()
}

// Terminate interrupts running script, cancels async work and makes Run
// return ErrTerminated. Safe from any goroutine and idempotent.
func (i *Isolate) Terminate() {
	i.engine.Terminate()
	i.cancel()
	i.loop.Submit(func() error { return errors.Terminated() })
}

// Terminated reports whether Terminate was called.
func (i *Isolate) Terminated() bool { return i.engine.Terminated() }

// Close runs OpState close hooks, cancels the context and disposes the
// engine isolate. Queued tasks are dropped.
func (i *Isolate) Close() {
	i.closeOnce.Do(func() {
		i.cancel()
		i.state.close()
		i.loop.Close()
		i.engine.Close()
		i.log.Debug("isolate closed")
	})
}

// dispatch is the engine op handler: it looks the op up by id and either
// responds inline or runs the op off the loop and responds on a later turn.
func (i *Isolate) dispatch(st *engine.State, opID uint32, control, zeroCopy []byte) {
	name, fn, ok := i.rt.ops.Lookup(opID)
	if !ok {
		vm := st.Runtime()
		obj, err := vm.New(vm.Get("RangeError"), vm.ToValue("unknown op id"))
		if err != nil {
			panic(err)
		}
		panic(obj)
	}

	op := fn(i.state, control, zeroCopy)
	if !op.IsAsync() {
		if err := st.Respond(opID, op.buf); err != nil {
			panic(err)
		}
		return
	}

	i.log.Debug("async op started", zap.String("op", name), zap.Uint32("op_id", opID))
	release := i.loop.Hold()
	ctx := i.ctx
	go func() {
		buf := op.async(ctx)
		release(func() error {
			return st.Respond(opID, buf)
		})
	}()
}

// dynamicImport resolves specifier, loads it off the loop and evaluates it
// on a later turn, then settles import id.
func (i *Isolate) dynamicImport(st *engine.State, specifier, referrer string, id int) {
	if referrer == "" {
		referrer = i.Referrer()
	}
	release := i.loop.Hold()

	url, err := i.rt.resolver.Resolve(specifier, referrer)
	if err != nil {
		release(func() error { return st.RejectDynamicImport(id, err) })
		return
	}
	if _, ok := i.modules[url]; ok {
		release(func() error { return i.settleImport(st, id, url, "") })
		return
	}

	ctx := i.ctx
	go func() {
		source, err := i.rt.loader.Load(ctx, url)
		release(func() error {
			if err != nil {
				return st.RejectDynamicImport(id, err)
			}
			return i.settleImport(st, id, url, source)
		})
	}()
}

func (i *Isolate) settleImport(st *engine.State, id int, url, source string) error {
	exports, err := i.evaluate(url, source, false)
	if err != nil {
		if stderrors.Is(err, errors.ErrTerminated) {
			return err
		}
		return st.RejectDynamicImport(id, err)
	}
	return st.ResolveDynamicImport(id, exports)
}
