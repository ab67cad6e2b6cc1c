package worker

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wippyai/isolate-runtime/errors"
	"github.com/wippyai/isolate-runtime/resource"
	"github.com/wippyai/isolate-runtime/runtime"
)

// HostConfig configures a worker host.
type HostConfig struct {
	// Referrer resolves worker specifiers. Defaults to the runtime's BaseURL.
	Referrer string
	// EventBuffer and InboundBuffer size each worker's channels. Zero uses
	// the runtime configuration.
	EventBuffer   int
	InboundBuffer int
}

// CreateOptions describes a worker to start.
type CreateOptions struct {
	// Name defaults to "worker-" plus a random suffix.
	Name      string
	Specifier string
	// SourceCode is evaluated as the module at the resolved specifier when
	// HasSourceCode is set, instead of loading it.
	SourceCode    string
	HasSourceCode bool
	// UseNamespace keeps the core object visible to the worker. It requires
	// the namespace capability.
	UseNamespace bool
}

type entry struct {
	handle *Handle
	thread *thread
}

// Drop implements resource.Dropper: closing the table terminates the
// worker. The caller still joins it.
func (e *entry) Drop() { e.handle.Terminate() }

// Host owns a table of workers started by one parent. Ids are assigned
// from 1 and never reused. All methods are safe for concurrent use.
type Host struct {
	rt       *runtime.Runtime
	workers  *resource.Table[*entry]
	tel      *telemetry
	referrer string
	cfg      HostConfig
	mu       sync.Mutex
	closed   bool
}

// NewHost creates a worker host on rt and registers the worker ops there.
func NewHost(rt *runtime.Runtime, cfg HostConfig) *Host {
	if err := RegisterOps(rt); err != nil {
		Logger().Error("register worker ops", zap.Error(err))
	}
	rc := rt.Config()
	if cfg.Referrer == "" {
		cfg.Referrer = rt.BaseURL()
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = rc.WorkerEventBuffer
	}
	if cfg.InboundBuffer == 0 {
		cfg.InboundBuffer = rc.WorkerInboundBuffer
	}
	h := &Host{
		rt:       rt,
		workers:  resource.NewTable[*entry](),
		tel:      newTelemetry(),
		referrer: cfg.Referrer,
		cfg:      cfg,
	}
	h.workers.Subscribe(h.tel)
	return h
}

// CreateWorker resolves the specifier, starts the worker on its own
// goroutine and waits for its isolate to be created. Failures up to that
// point are setup errors and leave nothing behind; failures after it
// (loading, evaluation) arrive as a terminal error event.
func (h *Host) CreateWorker(ctx context.Context, opts CreateOptions) (uint32, error) {
	ctx, span := h.tel.start(ctx, "worker.create", attribute.String("worker.specifier", opts.Specifier))
	defer span.End()

	id, err := h.createWorker(ctx, opts)
	if err != nil {
		fail(span, err)
		Logger().Debug("create worker failed", zap.String("specifier", opts.Specifier), zap.Error(err))
		return 0, err
	}
	span.SetAttributes(attribute.Int64("worker.id", int64(id)))
	return id, nil
}

func (h *Host) createWorker(ctx context.Context, opts CreateOptions) (uint32, error) {
	if h.isClosed() {
		return 0, errors.Setup("worker host is closed", nil)
	}
	url, err := h.rt.Resolver().Resolve(opts.Specifier, h.referrer)
	if err != nil {
		return 0, errors.Setup("resolve worker "+opts.Specifier, err)
	}
	if opts.UseNamespace && !h.rt.Permissions().Authorize(runtime.CapNamespace) {
		return 0, errors.Setup("create worker "+url, errors.PermissionDenied(runtime.CapNamespace))
	}

	name := opts.Name
	if name == "" {
		name = "worker-" + uuid.NewString()[:8]
	}
	ready := make(chan error, 1)
	w := &worker{
		ctx:    context.WithoutCancel(ctx),
		rt:     h.rt,
		handle: newHandle(name, h.cfg.EventBuffer, h.cfg.InboundBuffer),
		thread: newThread(),
		log:    Logger().With(zap.String("worker", name), zap.String("url", url)),
		ready:  ready,
		spec: workerSpec{
			name:         name,
			url:          url,
			source:       opts.SourceCode,
			hasSource:    opts.HasSourceCode,
			useNamespace: opts.UseNamespace,
		},
	}
	go w.run()

	if err := <-ready; err != nil {
		_ = w.thread.join()
		return 0, err
	}

	// Insert fails once Close has closed the table.
	h.mu.Lock()
	id := uint32(h.workers.Insert(&entry{handle: w.handle, thread: w.thread}))
	h.mu.Unlock()
	if id == 0 {
		w.handle.Terminate()
		_ = w.thread.join()
		return 0, errors.Setup("worker host is closed", nil)
	}

	w.handle.id.Store(id)
	w.log.Info("worker created", zap.Uint32("id", id))
	return id, nil
}

// Handle returns the handle of worker id.
func (h *Host) Handle(id uint32) (*Handle, bool) {
	e, ok := h.workers.Get(resource.Handle(id))
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// PostMessage sends data to worker id. data must not be modified
// afterwards.
func (h *Host) PostMessage(id uint32, data []byte) error {
	e, ok := h.workers.Get(resource.Handle(id))
	if !ok {
		return errors.UnknownWorker(id)
	}
	return e.handle.PostMessage(data)
}

// GetMessage waits for the next event of worker id. When the worker has
// exited (close) or failed (terminal error) the worker is removed and its
// goroutine joined; later calls for id fail with ErrUnknownWorker. A panic
// that killed the worker is returned alongside the close event.
func (h *Host) GetMessage(ctx context.Context, id uint32) (Event, error) {
	e, ok := h.workers.Get(resource.Handle(id))
	if !ok {
		return Event{}, errors.UnknownWorker(id)
	}

	select {
	case ev, ok := <-e.handle.events:
		if !ok {
			ev = Event{Type: EventClose}
		}
		h.tel.event(ctx, ev)
		if ev.Type == EventClose || ev.Type == EventTerminalError {
			return ev, h.reap(id, e)
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// reap removes a finished worker and joins its goroutine. Concurrent
// callers may both reap; removal and join are idempotent.
func (h *Host) reap(id uint32, e *entry) error {
	h.workers.Remove(resource.Handle(id))
	return e.thread.join()
}

// TerminateWorker removes worker id, interrupts it and waits for its
// goroutine to exit.
func (h *Host) TerminateWorker(ctx context.Context, id uint32) error {
	ctx, span := h.tel.start(ctx, "worker.terminate", attribute.Int64("worker.id", int64(id)))
	defer span.End()

	e, ok := h.workers.Remove(resource.Handle(id))
	if !ok {
		err := errors.UnknownWorker(id)
		fail(span, err)
		return err
	}
	e.handle.Terminate()
	err := e.thread.join()
	h.tel.terminated.Add(ctx, 1)
	if err != nil {
		fail(span, err)
	}
	Logger().Debug("worker terminated", zap.Uint32("id", id), zap.String("worker", e.handle.Name()))
	return err
}

// Len returns the number of registered workers.
func (h *Host) Len() int { return h.workers.Len() }

// Close terminates and joins every worker. Creating workers afterwards
// fails. Panics recovered from workers are joined into the result.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	entries := h.workers.Close()
	h.mu.Unlock()
	h.workers.Unsubscribe(h.tel)

	var errs []error
	for _, e := range entries {
		if err := e.thread.join(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
