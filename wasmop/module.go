package wasmop

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	isolateruntime "github.com/wippyai/isolate-runtime"
	"github.com/wippyai/isolate-runtime/errors"
)

// Config configures Load.
type Config struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
	Name   string
	// MemoryLimitPages caps linear memory in 64KiB pages.
	// 0 keeps the wazero default.
	MemoryLimitPages uint32
	// WASI instantiates wasi_snapshot_preview1 for modules importing it.
	WASI bool
}

// Module is an instantiated core wasm module whose exports are typed by
// WIT function declarations. Calls are serialized.
type Module struct {
	rt    wazero.Runtime
	mod   api.Module
	funcs map[string]*function
	log   *zap.Logger
	name  string
	mu    sync.Mutex
}

type function struct {
	fn  api.Function
	sig *signature
}

// Load instantiates wasm and binds every function declared in witText to
// its export. Every declared function must be exported with a matching
// core signature.
func Load(ctx context.Context, wasm []byte, witText string, cfg Config) (*Module, error) {
	sigs, err := parseWitFunctions(witText)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, errors.Instantiation(err)
		}
	}

	modConfig := wazero.NewModuleConfig().WithName(cfg.Name).WithStartFunctions("_initialize")
	if cfg.Stdout != nil {
		modConfig = modConfig.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modConfig = modConfig.WithStderr(cfg.Stderr)
	}
	mod, err := rt.InstantiateWithConfig(ctx, wasm, modConfig)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Instantiation(err)
	}

	m := &Module{
		rt:    rt,
		mod:   mod,
		funcs: make(map[string]*function, len(sigs)),
		log:   log,
		name:  cfg.Name,
	}
	for name, sig := range sigs {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			_ = rt.Close(ctx)
			return nil, errors.NotFound(errors.PhaseSetup, "export", name)
		}
		if err := sig.check(name, fn.Definition()); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		m.funcs[name] = &function{fn: fn, sig: sig}
	}

	log.Debug("wasm module loaded", zap.String("module", cfg.Name), zap.Int("functions", len(m.funcs)))
	return m, nil
}

// Functions returns the bound function names, sorted.
func (m *Module) Functions() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes function name. Arguments are converted by their WIT types;
// integers may be Go integers or json.Number, floats any Go number.
func (m *Module) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	f, ok := m.funcs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "function", name)
	}
	if len(args) != len(f.sig.params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Detail("expected %d arguments, got %d", len(f.sig.params), len(args)).
			Build()
	}

	stack := make([]uint64, len(args))
	for i, p := range f.sig.params {
		v, err := lower(name, p, args[i])
		if err != nil {
			return nil, err
		}
		stack[i] = v
	}

	m.mu.Lock()
	raw, err := f.fn.Call(ctx, stack...)
	m.mu.Unlock()
	if err != nil {
		m.log.Debug("wasm call trapped", zap.String("function", name), zap.Error(err))
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindTrap, err, "call "+name)
	}

	results := make([]any, len(f.sig.results))
	for i, p := range f.sig.results {
		results[i] = lift(p, raw[i])
	}
	return results, nil
}

// Region returns the module's linear memory as a shared region, or false
// when it has none. The view is taken on each Bytes call; slices obtained
// before the memory grows keep pointing at the old backing array.
func (m *Module) Region() (isolateruntime.SharedRegion, bool) {
	mem := m.mod.Memory()
	if mem == nil {
		return nil, false
	}
	return memoryRegion{mem: mem}, true
}

// Close releases the wazero runtime and every module in it.
func (m *Module) Close(ctx context.Context) error {
	return m.rt.Close(ctx)
}

type memoryRegion struct {
	mem api.Memory
}

func (r memoryRegion) Bytes() []byte {
	b, _ := r.mem.Read(0, r.mem.Size())
	return b
}
