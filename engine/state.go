package engine

import (
	"io"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	isolateruntime "github.com/wippyai/isolate-runtime"
	"github.com/wippyai/isolate-runtime/errors"
)

// OpHandler is invoked by send for every op dispatch. A synchronous op
// calls st.Respond before returning. An op that returns without responding
// is asynchronous and must call Respond later, from the isolate's goroutine.
type OpHandler func(st *State, opID uint32, control, zeroCopy []byte)

// DynamicImportHook is invoked when guest code requests a dynamic import.
// It must not block. The import is settled later with ResolveDynamicImport
// or RejectDynamicImport using the same id.
type DynamicImportHook func(st *State, specifier, referrer string, id int)

// RejectEvent is an engine-neutral promise rejection notification.
type RejectEvent uint8

const (
	RejectedNoHandler RejectEvent = iota
	HandlerAddedAfterReject
	RejectAfterResolved
	ResolveAfterRejected
)

func (e RejectEvent) String() string {
	switch e {
	case RejectedNoHandler:
		return "rejected_no_handler"
	case HandlerAddedAfterReject:
		return "handler_added_after_reject"
	case RejectAfterResolved:
		return "reject_after_resolved"
	case ResolveAfterRejected:
		return "resolve_after_rejected"
	default:
		return "unknown"
	}
}

// Rejection is an unhandled promise rejection awaiting the checkpoint.
type Rejection struct {
	Reason    goja.Value
	PromiseID int
}

// ModuleInfo is a module registry entry.
type ModuleInfo struct {
	URL  string
	Main bool
}

type importResolver struct {
	resolve func(any) error
	reject  func(any) error
}

// State is the per-isolate mutable record. It is owned by the goroutine that
// runs the isolate; only Terminate-related fields are touched from elsewhere.
type State struct {
	vm          *goja.Runtime
	dispatcher  goja.Callable
	opHandler   OpHandler
	importHook  DynamicImportHook
	shared      isolateruntime.SharedRegion
	sharedValue goja.Value
	stdout      io.Writer
	stderr      io.Writer
	uint8Array  *goja.Object
	microtask   goja.Callable
	lastErr     *ErrorInfo
	log         *zap.Logger

	dynImports   map[int]*importResolver
	rejections   map[int]goja.Value
	promiseIDs   map[*goja.Promise]int
	modules      map[int]*ModuleInfo
	name         string
	uuid         string
	slot         DispatchSlot
	nextImportID int
	nextPromise  int
	nextModuleID int
	id           IsolateID
	terminated   atomic.Bool
}

func newState(vm *goja.Runtime, cfg Config) *State {
	st := &State{
		vm:         vm,
		opHandler:  cfg.OpHandler,
		importHook: cfg.DynamicImport,
		shared:     cfg.Shared,
		stdout:     cfg.Stdout,
		stderr:     cfg.Stderr,
		name:       cfg.Name,
		uuid:       uuid.NewString(),
		dynImports: make(map[int]*importResolver),
		rejections: make(map[int]goja.Value),
		promiseIDs: make(map[*goja.Promise]int),
		modules:    make(map[int]*ModuleInfo),
	}
	if st.stdout == nil {
		st.stdout = io.Discard
	}
	if st.stderr == nil {
		st.stderr = io.Discard
	}
	return st
}

// ID returns the isolate's registry id.
func (s *State) ID() IsolateID { return s.id }

// UUID returns a process-unique identifier for log correlation.
func (s *State) UUID() string { return s.uuid }

// Name returns the isolate's configured name.
func (s *State) Name() string { return s.name }

// Runtime returns the engine runtime. Use only from the owning goroutine.
func (s *State) Runtime() *goja.Runtime { return s.vm }

// Logger returns a logger annotated with the isolate's identity.
func (s *State) Logger() *zap.Logger {
	if s.log == nil {
		s.log = Logger().With(zap.Uint32("isolate", uint32(s.id)), zap.String("isolate_uuid", s.uuid))
	}
	return s.log
}

// SetOpHandler installs the handler send dispatches to.
func (s *State) SetOpHandler(h OpHandler) { s.opHandler = h }

// SetDynamicImportHook installs the hook invoked for dynamic imports.
func (s *State) SetDynamicImportHook(h DynamicImportHook) { s.importHook = h }

// SlotState returns the dispatch slot state.
func (s *State) SlotState() SlotState { return s.slot.State() }

// HasDispatcher reports whether guest code registered an op dispatcher.
func (s *State) HasDispatcher() bool { return s.dispatcher != nil }

// Terminated reports whether termination was requested.
func (s *State) Terminated() bool { return s.terminated.Load() }

// LastException returns the most recent uncaught exception, if any.
func (s *State) LastException() *ErrorInfo { return s.lastErr }

// Respond completes an op. While send is inside the op handler the response
// becomes send's return value; otherwise it is delivered to the registered
// dispatcher as (opId, bytes).
func (s *State) Respond(opID uint32, buf []byte) error {
	if s.slot.Complete(buf) {
		return nil
	}
	if s.dispatcher == nil {
		return errors.NotInitialized(errors.PhaseDispatch, "op dispatcher")
	}
	if s.terminated.Load() {
		return errors.Terminated()
	}
	_, err := s.dispatcher(goja.Undefined(), s.vm.ToValue(opID), s.NewUint8Array(buf))
	if err != nil {
		return s.recordError(err)
	}
	return nil
}

// NewUint8Array wraps buf in a Uint8Array without copying.
func (s *State) NewUint8Array(buf []byte) goja.Value {
	if buf == nil {
		buf = []byte{}
	}
	ab := s.vm.NewArrayBuffer(buf)
	arr, err := s.vm.New(s.uint8Array, s.vm.ToValue(ab))
	if err != nil {
		panic(err)
	}
	return arr
}

// OnPromiseReject applies a rejection event to the rejection table.
func (s *State) OnPromiseReject(ev RejectEvent, p *goja.Promise, reason goja.Value) {
	switch ev {
	case RejectedNoHandler:
		s.nextPromise++
		id := s.nextPromise
		s.promiseIDs[p] = id
		s.rejections[id] = reason
		debugf("isolate %d: promise %d rejected without handler", s.id, id)
	case HandlerAddedAfterReject:
		if id, ok := s.promiseIDs[p]; ok {
			delete(s.promiseIDs, p)
			delete(s.rejections, id)
			debugf("isolate %d: promise %d handled late", s.id, id)
		}
	case RejectAfterResolved, ResolveAfterRejected:
	}
}

// PendingRejections returns the number of unhandled rejections.
func (s *State) PendingRejections() int { return len(s.rejections) }

// TakeRejections empties the rejection table and returns its entries in
// rejection order.
func (s *State) TakeRejections() []Rejection {
	if len(s.rejections) == 0 {
		return nil
	}
	out := make([]Rejection, 0, len(s.rejections))
	for id, reason := range s.rejections {
		out = append(out, Rejection{PromiseID: id, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromiseID < out[j].PromiseID })
	clear(s.rejections)
	clear(s.promiseIDs)
	return out
}

// CheckUnhandledRejections is the reporting checkpoint. It drains the
// rejection table and returns the first rejection as an error.
func (s *State) CheckUnhandledRejections() error {
	rejections := s.TakeRejections()
	if len(rejections) == 0 {
		return nil
	}
	info := ValueInfo(rejections[0].Reason)
	info.Message = "Uncaught (in promise) " + info.Message
	s.lastErr = info
	s.Logger().Warn("unhandled promise rejection",
		zap.Int("promise", rejections[0].PromiseID),
		zap.Int("count", len(rejections)),
		zap.String("message", info.Message))
	return info
}

// ResolveDynamicImport fulfills the import promise id with value.
func (s *State) ResolveDynamicImport(id int, value goja.Value) error {
	r, ok := s.dynImports[id]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "dynamic import", strconv.Itoa(id))
	}
	delete(s.dynImports, id)
	return s.recordError(r.resolve(value))
}

// RejectDynamicImport rejects the import promise id. Go errors are
// converted to engine error objects.
func (s *State) RejectDynamicImport(id int, reason error) error {
	r, ok := s.dynImports[id]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "dynamic import", strconv.Itoa(id))
	}
	delete(s.dynImports, id)
	var v goja.Value
	if info, ok := reason.(*ErrorInfo); ok {
		obj, err := s.errorObject(info)
		if err != nil {
			return s.recordError(err)
		}
		v = obj
	} else {
		v = s.vm.NewGoError(reason)
	}
	return s.recordError(r.reject(v))
}

// errorObject builds an Error carrying info's message and location.
func (s *State) errorObject(info *ErrorInfo) (*goja.Object, error) {
	obj, err := s.vm.New(s.vm.Get("Error"), s.vm.ToValue(info.Message))
	if err != nil {
		return nil, err
	}
	props := []struct {
		name  string
		value any
		set   bool
	}{
		{"fileName", info.FileName, info.FileName != ""},
		{"lineNumber", info.LineNumber, info.LineNumber > 0},
		{"columnNumber", info.ColumnNumber, info.ColumnNumber > 0},
	}
	for _, p := range props {
		if !p.set {
			continue
		}
		if err := obj.Set(p.name, p.value); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// PendingDynamicImports returns the number of unsettled dynamic imports.
func (s *State) PendingDynamicImports() int { return len(s.dynImports) }

// RegisterModule adds a module registry entry and returns its id.
func (s *State) RegisterModule(url string, main bool) int {
	s.nextModuleID++
	s.modules[s.nextModuleID] = &ModuleInfo{URL: url, Main: main}
	return s.nextModuleID
}

// Module returns the registry entry for id.
func (s *State) Module(id int) (ModuleInfo, bool) {
	m, ok := s.modules[id]
	if !ok {
		return ModuleInfo{}, false
	}
	return *m, true
}

func (s *State) allocDynamicImport(resolve, reject func(any) error) int {
	s.nextImportID++
	s.dynImports[s.nextImportID] = &importResolver{resolve: resolve, reject: reject}
	return s.nextImportID
}

// recordError converts an engine error and remembers exceptions as the
// isolate's last exception.
func (s *State) recordError(err error) error {
	err = convertError(err)
	if info, ok := err.(*ErrorInfo); ok {
		s.lastErr = info
	}
	return err
}

func (s *State) throwError(msg string) {
	obj, err := s.vm.New(s.vm.Get("Error"), s.vm.ToValue(msg))
	if err != nil {
		panic(err)
	}
	panic(obj)
}

func (s *State) throwTypeError(msg string) {
	panic(s.vm.NewTypeError(msg))
}
