package runtime

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Runtime holds what isolates share: the op registry, module resolution
// and loading, permissions and configuration. It is safe for concurrent use.
type Runtime struct {
	resolver Resolver
	loader   Loader
	perms    Permissions
	stdout   io.Writer
	stderr   io.Writer
	ops      *OpRegistry
	log      *zap.Logger
	onces    sync.Map
	baseURL  string
	cfg      Config
}

type onceResult struct {
	err  error
	once sync.Once
}

// New creates a runtime. Collaborators default to URLResolver, FileLoader,
// an AllowList built from cfg.Allow and the process stdout/stderr.
func New(cfg Config, opts ...Option) *Runtime {
	rt := &Runtime{
		cfg:      cfg,
		ops:      NewOpRegistry(),
		resolver: URLResolver{},
		loader:   FileLoader{},
		perms:    AllowList(cfg.Allow),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.log == nil {
		rt.log = Logger()
	}

	root := cfg.ModuleRoot
	if root == "" {
		root = "."
	}
	base, err := DirURL(root)
	if err != nil {
		rt.log.Warn("module root unusable, falling back to file:///", zap.String("root", root), zap.Error(err))
		base = "file:///"
	}
	rt.baseURL = base
	return rt
}

// Config returns the runtime's settings.
func (r *Runtime) Config() Config { return r.cfg }

// Ops returns the op registry.
func (r *Runtime) Ops() *OpRegistry { return r.ops }

// Resolver returns the module resolver.
func (r *Runtime) Resolver() Resolver { return r.resolver }

// Loader returns the module loader.
func (r *Runtime) Loader() Loader { return r.loader }

// Permissions returns the permission checker.
func (r *Runtime) Permissions() Permissions { return r.perms }

// BaseURL returns the URL main module specifiers resolve against.
func (r *Runtime) BaseURL() string { return r.baseURL }

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *zap.Logger { return r.log }

// RegisterOp registers a byte-protocol op.
func (r *Runtime) RegisterOp(name string, fn OpFunc) error {
	_, err := r.ops.Register(name, fn)
	return err
}

// RegisterJSONOp registers a JSON op.
func (r *Runtime) RegisterJSONOp(name string, fn JSONOpFunc) error {
	_, err := r.ops.RegisterJSON(name, fn)
	return err
}

// RegisterHost registers every op of h.
// Ops registered after an isolate started are still visible to it.
func (r *Runtime) RegisterHost(h Host) error {
	return r.ops.RegisterHost(h)
}

// Once runs fn the first time it is called with key on this runtime and
// returns fn's error on every call. Extensions use it to register their
// ops exactly once.
func (r *Runtime) Once(key any, fn func() error) error {
	v, _ := r.onces.LoadOrStore(key, &onceResult{})
	res := v.(*onceResult)
	res.once.Do(func() { res.err = fn() })
	return res.err
}
