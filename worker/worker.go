package worker

import (
	"context"
	stderrors "errors"
	goruntime "runtime"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/isolate-runtime/engine"
	"github.com/wippyai/isolate-runtime/errors"
	"github.com/wippyai/isolate-runtime/runtime"
)

// scopeKey stores the worker's own Handle in its isolate's OpState.
type scopeKey struct{}

type workerSpec struct {
	name         string
	url          string
	source       string
	hasSource    bool
	useNamespace bool
}

// worker is the goroutine side of a Handle: it owns the isolate from
// creation to disposal.
type worker struct {
	ctx       context.Context
	rt        *runtime.Runtime
	handle    *Handle
	thread    *thread
	log       *zap.Logger
	ready     chan<- error
	spec      workerSpec
	readySent bool
}

// run is the worker goroutine. It is locked to its OS thread for its whole
// life and never unlocks, so the thread exits with it.
func (w *worker) run() {
	goruntime.LockOSThread()
	defer close(w.thread.done)
	defer w.recoverPanic()

	iso, err := w.rt.NewIsolate(w.ctx, runtime.IsolateConfig{
		Name:         w.spec.name,
		Referrer:     w.spec.url,
		Worker:       true,
		UseNamespace: w.spec.useNamespace,
	})
	if err != nil {
		w.handshake(err)
		return
	}
	defer iso.Close()

	iso.OpState().SetValue(scopeKey{}, w.handle)
	w.handle.attach(iso)
	w.handshake(nil)
	defer close(w.handle.events)
	defer w.handle.exit()

	err = w.execute(iso)
	w.handle.exit()
	w.finish(err)
}

func (w *worker) handshake(err error) {
	w.readySent = true
	w.ready <- err
}

func (w *worker) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	w.thread.err = errors.Panic(errors.PhaseWorker, r)
	w.log.Error("worker panicked", zap.Any("panic", r), zap.Stack("stack"))
	if !w.readySent {
		w.handshake(errors.Setup("worker panicked during setup", w.thread.err))
	}
}

// execute evaluates the main module and then drives the event loop until
// the worker is idle, closed or terminated.
func (w *worker) execute(iso *runtime.Isolate) error {
	source := w.spec.source
	if !w.spec.hasSource {
		var err error
		source, err = w.rt.Loader().Load(iso.Context(), w.spec.url)
		if err != nil {
			return err
		}
	}
	if err := iso.ExecuteModuleSource(w.spec.url, source); err != nil {
		return err
	}

	stop := w.pump(iso)
	defer stop()
	iso.SetKeepAlive(func() bool { return hasHandler(iso) })
	return iso.Run(iso.Context())
}

// pump moves inbound messages onto the isolate's loop in arrival order.
func (w *worker) pump(iso *runtime.Isolate) func() {
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case data := <-w.handle.inbound:
				if !iso.Submit(func() error { return w.deliver(iso, data) }) {
					return
				}
			case <-quit:
				return
			case <-w.handle.terminate:
				return
			}
		}
	}()
	return func() { close(quit) }
}

// deliver calls onmessage({data}) on the loop goroutine. An exception thrown
// by the handler is reported as an error event and the worker keeps
// running.
func (w *worker) deliver(iso *runtime.Isolate, data []byte) error {
	eng := iso.Engine()
	vm := eng.Runtime()
	handler := vm.GlobalObject().Get("onmessage")
	if _, ok := goja.AssertFunction(handler); !ok {
		w.log.Debug("message dropped, no onmessage handler", zap.Int("bytes", len(data)))
		return nil
	}

	ev := vm.NewObject()
	if err := ev.Set("data", eng.State().NewUint8Array(data)); err != nil {
		return err
	}
	_, err := eng.Call(handler, vm.GlobalObject(), ev)
	if err == nil {
		return nil
	}
	var info *engine.ErrorInfo
	if stderrors.As(err, &info) {
		w.log.Debug("onmessage threw", zap.Error(errors.Uncaught(info)))
		w.handle.emit(Event{Type: EventError, Error: info})
		return nil
	}
	return err
}

// finish reports how the worker ended. Termination and graceful exit are
// silent; anything else becomes the terminal error event.
func (w *worker) finish(err error) {
	switch {
	case err == nil:
		w.log.Info("worker exited")
	case w.handle.Terminated(),
		stderrors.Is(err, errors.ErrTerminated),
		stderrors.Is(err, context.Canceled):
		w.log.Info("worker terminated", zap.Error(err))
	default:
		terr := errors.Terminal(err)
		w.handle.failure.Store(terr)
		w.log.Warn("worker failed", zap.Error(terr))
		w.handle.emit(Event{Type: EventTerminalError, Error: errorInfo(err)})
	}
}

func hasHandler(iso *runtime.Isolate) bool {
	_, ok := goja.AssertFunction(iso.Engine().Runtime().GlobalObject().Get("onmessage"))
	return ok
}

// errorInfo reduces err to the serializable form carried by events.
func errorInfo(err error) *engine.ErrorInfo {
	var info *engine.ErrorInfo
	if stderrors.As(err, &info) {
		return info
	}
	return &engine.ErrorInfo{Message: err.Error()}
}
