package runtime

import (
	"bytes"
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	json "github.com/goccy/go-json"

	"github.com/wippyai/isolate-runtime/errors"
)

// Host is implemented by structs whose exported methods become JSON ops.
// Each method is registered as "<namespace>.<kebab-name>"
// (GetValue -> "ns.get-value").
//
// Supported method shapes:
//
//	func(ctx context.Context) error
//	func(ctx context.Context) (R, error)
//	func(ctx context.Context, in T) error
//	func(ctx context.Context, in T) (R, error)
//	func(s *OpState, args, zeroCopy []byte) (JSONResult, error)
//
// T is decoded from the request's args; R is encoded as the result.
type Host interface {
	Namespace() string
}

// AsyncHost extends Host with methods that run off the event loop.
// AsyncFunctions returns kebab-case names without the namespace.
type AsyncHost interface {
	Host
	AsyncFunctions() []string
}

// ExplicitRegistrar lets a host supply op names and handlers directly
// instead of having its methods reflected.
type ExplicitRegistrar interface {
	Register() map[string]JSONOpFunc
}

// OpRegistry assigns dense numeric ids to named ops in registration order.
// It is safe for concurrent use.
type OpRegistry struct {
	ids map[string]uint32
	ops []opEntry
	mu  sync.RWMutex
}

type opEntry struct {
	fn   OpFunc
	name string
}

// NewOpRegistry returns an empty registry.
func NewOpRegistry() *OpRegistry {
	return &OpRegistry{ids: make(map[string]uint32)}
}

// Register adds a byte-protocol op and returns its id.
func (r *OpRegistry) Register(name string, fn OpFunc) (uint32, error) {
	if name == "" {
		return 0, errors.InvalidInput(errors.PhaseHost, "op name cannot be empty")
	}
	if fn == nil {
		return 0, errors.InvalidInput(errors.PhaseHost, "op handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[name]; ok {
		return 0, errors.New(errors.PhaseHost, errors.KindRegistration).
			Detail("op %q already registered", name).
			Build()
	}
	id := uint32(len(r.ops))
	r.ops = append(r.ops, opEntry{name: name, fn: fn})
	r.ids[name] = id
	return id, nil
}

// RegisterJSON adds a JSON op and returns its id.
func (r *OpRegistry) RegisterJSON(name string, fn JSONOpFunc) (uint32, error) {
	if fn == nil {
		return 0, errors.InvalidInput(errors.PhaseHost, "op handler cannot be nil")
	}
	return r.Register(name, wrapJSON(name, fn))
}

// Lookup returns the name and handler registered under id.
func (r *OpRegistry) Lookup(id uint32) (string, OpFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.ops) {
		return "", nil, false
	}
	e := r.ops[id]
	return e.name, e.fn, true
}

// ID returns the id of a registered op.
func (r *OpRegistry) ID(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	return id, ok
}

// Names returns a copy of the name to id map.
func (r *OpRegistry) Names() map[string]uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint32, len(r.ids))
	for k, v := range r.ids {
		out[k] = v
	}
	return out
}

// Len returns the number of registered ops.
func (r *OpRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// RegisterHost registers every op of h. Methods are visited in name order
// so ids are stable across runs.
func (r *OpRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		funcs := er.Register()
		names := make([]string, 0, len(funcs))
		for name := range funcs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, err := r.RegisterJSON(ns+"."+name, funcs[name]); err != nil {
				return errors.Registration(errors.PhaseHost, ns, name, err)
			}
		}
		return nil
	}

	asyncFuncs := make(map[string]bool)
	if ah, ok := h.(AsyncHost); ok {
		for _, name := range ah.AsyncFunctions() {
			asyncFuncs[name] = true
		}
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()

	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" || method.Name == "AsyncFunctions" {
			continue
		}

		name := toKebabCase(method.Name)
		fn, err := hostMethod(rv.Method(i), asyncFuncs[name])
		if err != nil {
			return errors.Registration(errors.PhaseHost, ns, name, err)
		}
		if _, err := r.RegisterJSON(ns+"."+name, fn); err != nil {
			return errors.Registration(errors.PhaseHost, ns, name, err)
		}
	}
	return nil
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// hostMethod adapts a bound method to a JSON op handler.
func hostMethod(m reflect.Value, async bool) (JSONOpFunc, error) {
	if fn, ok := m.Interface().(func(*OpState, []byte, []byte) (JSONResult, error)); ok {
		return fn, nil
	}

	t := m.Type()
	if t.NumIn() < 1 || t.NumIn() > 2 || t.In(0) != contextType ||
		t.NumOut() < 1 || t.NumOut() > 2 || t.Out(t.NumOut()-1) != errorType {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(t.String()).
			Detail("unsupported op method signature").
			Build()
	}

	call := func(ctx context.Context, args []byte) (any, error) {
		in := []reflect.Value{reflect.ValueOf(ctx)}
		if t.NumIn() == 2 {
			arg := reflect.New(t.In(1))
			if !isJSONNull(args) {
				if err := json.Unmarshal(args, arg.Interface()); err != nil {
					return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
						GoType(t.In(1).String()).
						Detail("decode op arguments").
						Cause(err).
						Build()
				}
			}
			in = append(in, arg.Elem())
		}

		out := m.Call(in)
		if errV := out[len(out)-1]; !errV.IsNil() {
			return nil, errV.Interface().(error)
		}
		if len(out) == 2 {
			return out[0].Interface(), nil
		}
		return nil, nil
	}

	return func(s *OpState, args, _ []byte) (JSONResult, error) {
		if async {
			args = bytes.Clone(args)
			return JSONAsync(func(ctx context.Context) (any, error) {
				return call(ctx, args)
			}), nil
		}
		v, err := call(s.Context(), args)
		if err != nil {
			return JSONResult{}, err
		}
		return JSONSync(v), nil
	}, nil
}

func isJSONNull(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || string(b) == "null"
}

// toKebabCase converts PascalCase to kebab-case.
// A run of capitals is one word: GetHTTPServer -> get-http-server,
// GetHTTPURL -> get-httpurl.
func toKebabCase(s string) string {
	runes := []rune(s)
	var b strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}

		end := i + 1
		for end < len(runes) && unicode.IsUpper(runes[end]) {
			end++
		}
		// the last capital of a run followed by lowercase starts the next word
		if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
			end--
		}

		if i > 0 {
			b.WriteByte('-')
		}
		for j := i; j < end; j++ {
			b.WriteRune(unicode.ToLower(runes[j]))
		}
		i = end - 1
	}
	return b.String()
}
