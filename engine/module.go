package engine

import (
	"github.com/dop251/goja"

	"github.com/wippyai/isolate-runtime/errors"
)

// Module is a compiled module bound to an isolate's module registry.
//
// Sources are evaluated as the body of
//
//	function (exports, importMeta, importModule) { ... }
//
// where importMeta is initialized from the registry entry and importModule
// requests a dynamic import with the module's URL as referrer.
type Module struct {
	program   *goja.Program
	exports   *goja.Object
	err       error
	URL       string
	ID        int
	Main      bool
	evaluated bool
}

const (
	moduleHeader = "(function (exports, importMeta, importModule) {"
	moduleFooter = "\n})"
)

// CompileModule compiles source and registers the module under a new id.
// The header shares the first line with the source so line numbers match.
func (i *Isolate) CompileModule(url, source string, main bool) (*Module, error) {
	prg, err := goja.Compile(url, moduleHeader+source+moduleFooter, true)
	if err != nil {
		info := compileErrorInfo(url, err)
		i.state.lastErr = info
		return nil, info
	}
	id := i.state.RegisterModule(url, main)
	return &Module{
		program: prg,
		URL:     url,
		ID:      id,
		Main:    main,
	}, nil
}

// EvaluateModule runs the module body once and returns its exports object.
func (i *Isolate) EvaluateModule(m *Module) (*goja.Object, error) {
	if m.evaluated {
		return m.exports, m.err
	}
	fn, err := i.RunProgram(m.program)
	if err != nil {
		return nil, err
	}

	st := i.state
	meta := i.vm.NewObject()
	if err := i.initializeImportMeta(m.ID, meta); err != nil {
		return nil, err
	}

	url := m.URL
	importModule := i.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return i.bridge.importModuleDynamically(mustLookup(i.bridge.id), url, call.Argument(0))
	})

	exports := i.vm.NewObject()
	m.evaluated = true
	m.exports = exports
	if _, err := i.Call(fn, goja.Undefined(), exports, meta, importModule); err != nil {
		m.err = err
		return nil, err
	}
	debugf("isolate %d: evaluated module %d %s", st.id, m.ID, m.URL)
	return exports, nil
}

// Exports returns the module's exports once evaluated.
func (m *Module) Exports() *goja.Object { return m.exports }

func (i *Isolate) initializeImportMeta(id int, meta *goja.Object) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if obj, ok := r.(*goja.Object); ok {
				err = errors.New(errors.PhaseLoad, errors.KindNotFound).
					Detail("%s", obj.String()).
					Build()
				return
			}
			panic(r)
		}
	}()
	i.bridge.initializeImportMeta(i.state, id, meta)
	return nil
}
