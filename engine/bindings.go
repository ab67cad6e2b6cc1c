package engine

import (
	stderrors "errors"
	"io"
	"strings"

	"github.com/dop251/goja"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// bridge holds the native entry points installed on an isolate's core
// object. It carries only the isolate id; every entry point resolves the
// state through the registry.
type bridge struct {
	id IsolateID
}

const defaultEvalName = "<unknown>"

func (b bridge) install(st *State, core *goja.Object) error {
	entries := map[string]func(goja.FunctionCall) goja.Value{
		"print":          b.print,
		"recv":           b.recv,
		"send":           b.send,
		"evalContext":    b.evalContext,
		"errorToJSON":    b.errorToJSON,
		"queueMicrotask": b.queueMicrotask,
		"import":         b.importDynamic,
		"encode":         b.encode,
		"decode":         b.decode,
	}
	for name, fn := range entries {
		if err := core.Set(name, fn); err != nil {
			return err
		}
	}
	getter := st.vm.ToValue(b.sharedGetter)
	return core.DefineAccessorProperty("shared", getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

// print writes the string form of a value to stdout, or stderr when the
// second argument is truthy.
func (b bridge) print(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	var w io.Writer = st.stdout
	if call.Argument(1).ToBoolean() {
		w = st.stderr
	}
	if _, err := io.WriteString(w, call.Argument(0).String()); err != nil {
		st.Logger().Debug("print failed", zap.Error(err))
	}
	return goja.Undefined()
}

// recv registers the isolate's op dispatcher. It may be called once.
func (b bridge) recv(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		st.throwTypeError("recv: dispatcher must be a function")
	}
	if st.dispatcher != nil {
		st.throwError("recv: op dispatcher already registered")
	}
	st.dispatcher = fn
	return goja.Undefined()
}

// send dispatches op_id with a control buffer and an optional zero-copy
// buffer. It returns the inline response as a Uint8Array, or undefined when
// the op completes asynchronously.
func (b bridge) send(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)

	opID, ok := toOpID(call.Argument(0))
	if !ok {
		st.throwTypeError("send: op id must be a non-negative integer")
	}
	control, _ := bytesOf(call.Argument(1))
	zeroCopy, _ := bytesOf(call.Argument(2))

	if st.opHandler == nil {
		st.throwError("send: no op handler installed")
	}

	c := &Call{OpID: opID}
	st.slot.Begin(c)
	defer st.slot.Clear(c)

	st.opHandler(st, opID, control, zeroCopy)

	if c.responded {
		return st.NewUint8Array(c.response)
	}
	return goja.Undefined()
}

// evalContext compiles and runs source in the current context and returns
// [value, null] or [null, {isCompileError, isNativeError, thrown}].
func (b bridge) evalContext(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	vm := st.vm

	srcArg := call.Argument(0)
	if _, ok := srcArg.Export().(string); !ok {
		st.throwTypeError("evalContext: source must be a string")
	}
	name := defaultEvalName
	if n, ok := call.Argument(1).Export().(string); ok && n != "" {
		name = n
	}

	prg, err := goja.Compile(name, srcArg.String(), false)
	if err != nil {
		info := compileErrorInfo(name, err)
		thrown, nerr := vm.New(vm.Get("SyntaxError"), vm.ToValue(strings.TrimPrefix(info.Message, "Uncaught SyntaxError: ")))
		if nerr != nil {
			panic(nerr)
		}
		return vm.NewArray(goja.Null(), evalError(vm, true, true, thrown))
	}

	v, err := vm.RunProgram(prg)
	if err != nil {
		var ex *goja.Exception
		if !stderrors.As(err, &ex) {
			// interrupts and other uncatchable errors keep unwinding
			panic(err)
		}
		thrown := ex.Value()
		native := false
		if obj, ok := thrown.(*goja.Object); ok {
			native = IsNativeError(obj)
		}
		return vm.NewArray(goja.Null(), evalError(vm, false, native, thrown))
	}
	if v == nil {
		v = goja.Undefined()
	}
	return vm.NewArray(v, goja.Null())
}

func evalError(vm *goja.Runtime, compile, native bool, thrown goja.Value) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("isCompileError", compile)
	_ = obj.Set("isNativeError", native)
	_ = obj.Set("thrown", thrown)
	return obj
}

// errorToJSON serializes an error value as
// {message, fileName, lineNumber, columnNumber}.
func (b bridge) errorToJSON(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	data, err := json.Marshal(ValueInfo(call.Argument(0)))
	if err != nil {
		st.throwError("errorToJSON: " + err.Error())
	}
	return st.vm.ToValue(string(data))
}

// queueMicrotask enqueues fn on the engine's job queue.
func (b bridge) queueMicrotask(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	fn := call.Argument(0)
	if _, ok := goja.AssertFunction(fn); !ok {
		st.throwTypeError("queueMicrotask: argument must be a function")
	}
	if _, err := st.microtask(goja.Undefined(), fn); err != nil {
		panic(err)
	}
	return goja.Undefined()
}

// importDynamic is core.import(specifier[, referrer]). Scripts use it
// directly; modules receive a version bound to their own URL.
func (b bridge) importDynamic(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	referrer := ""
	if r, ok := call.Argument(1).Export().(string); ok {
		referrer = r
	}
	return b.importModuleDynamically(st, referrer, call.Argument(0))
}

// importModuleDynamically allocates the next import id, stores the resolver
// and hands (specifier, referrer, id) to the host hook. The returned promise
// stays pending until the host settles it by id.
func (b bridge) importModuleDynamically(st *State, referrer string, specifier goja.Value) goja.Value {
	p, resolve, reject := st.vm.NewPromise()
	id := st.allocDynamicImport(resolve, reject)
	if st.importHook == nil {
		delete(st.dynImports, id)
		if err := reject(st.vm.NewTypeError("dynamic import is not supported")); err != nil {
			panic(err)
		}
		return st.vm.ToValue(p)
	}
	debugf("isolate %d: dynamic import %d %q from %q", st.id, id, specifier.String(), referrer)
	st.importHook(st, specifier.String(), referrer, id)
	return st.vm.ToValue(p)
}

// initializeImportMeta populates {url, main} for module id. A module
// missing from the registry is a defect reported to the guest.
func (b bridge) initializeImportMeta(st *State, moduleID int, meta *goja.Object) {
	info, ok := st.modules[moduleID]
	if !ok {
		st.throwTypeError("import.meta: module not found in registry")
	}
	_ = meta.Set("url", info.URL)
	_ = meta.Set("main", info.Main)
}

// promiseRejectTracker maps engine rejection operations onto RejectEvent.
// goja reports only the two events that change the table.
func (b bridge) promiseRejectTracker(p *goja.Promise, op goja.PromiseRejectionOperation) {
	st, ok := Lookup(b.id)
	if !ok {
		return
	}
	switch op {
	case goja.PromiseRejectionReject:
		st.OnPromiseReject(RejectedNoHandler, p, p.Result())
	case goja.PromiseRejectionHandle:
		st.OnPromiseReject(HandlerAddedAfterReject, p, nil)
	}
}

// sharedGetter lazily wraps the shared region in an ArrayBuffer and caches
// it. Without a region it returns undefined.
func (b bridge) sharedGetter(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	if st.shared == nil {
		return goja.Undefined()
	}
	if st.sharedValue == nil {
		st.sharedValue = st.vm.ToValue(st.vm.NewArrayBuffer(st.shared.Bytes()))
	}
	return st.sharedValue
}

func (b bridge) encode(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	return st.NewUint8Array([]byte(call.Argument(0).String()))
}

func (b bridge) decode(call goja.FunctionCall) goja.Value {
	st := mustLookup(b.id)
	buf, ok := bytesOf(call.Argument(0))
	if !ok {
		st.throwTypeError("decode: argument must be a buffer")
	}
	return st.vm.ToValue(string(buf))
}

func toOpID(v goja.Value) (uint32, bool) {
	switch n := v.Export().(type) {
	case int64:
		if n < 0 || n > int64(^uint32(0)) {
			return 0, false
		}
		return uint32(n), true
	case float64:
		if n < 0 || n > float64(^uint32(0)) || n != float64(int64(n)) {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

// bytesOf returns the bytes viewed by an ArrayBuffer, typed array or
// DataView without copying.
func bytesOf(v goja.Value) ([]byte, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	switch x := obj.Export().(type) {
	case goja.ArrayBuffer:
		return x.Bytes(), true
	case []byte:
		return x, true
	}
	// other typed arrays and DataView: view their bytes in the backing buffer
	backing := obj.Get("buffer")
	if backing == nil {
		return nil, false
	}
	ab, ok := backing.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, false
	}
	off := obj.Get("byteOffset")
	n := obj.Get("byteLength")
	if off == nil || n == nil {
		return nil, false
	}
	all := ab.Bytes()
	start, length := off.ToInteger(), n.ToInteger()
	if start < 0 || length < 0 || start+length > int64(len(all)) {
		return nil, false
	}
	return all[start : start+length : start+length], true
}
