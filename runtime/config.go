package runtime

import (
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/isolate-runtime/errors"
)

// Config holds the serializable runtime settings.
type Config struct {
	// ModuleRoot is the directory (or absolute URL) that main module
	// specifiers are resolved against.
	ModuleRoot string `yaml:"module_root"`
	// Allow lists granted capabilities. "*" grants everything.
	Allow []string `yaml:"allow"`
	// MaxCallStackSize limits engine call depth. Zero keeps the engine default.
	MaxCallStackSize int `yaml:"max_call_stack_size"`
	// WorkerEventBuffer is the capacity of each worker's outbound event channel.
	WorkerEventBuffer int `yaml:"worker_event_buffer"`
	// WorkerInboundBuffer is the capacity of each worker's inbound message channel.
	WorkerInboundBuffer int `yaml:"worker_inbound_buffer"`
	// SharedMemorySize allocates a shared region of this many bytes for
	// isolates created without one. Zero disables it.
	SharedMemorySize int `yaml:"shared_memory_size"`
}

// DefaultConfig returns the settings used when no config file is given.
func DefaultConfig() Config {
	return Config{
		ModuleRoot:          ".",
		WorkerEventBuffer:   16,
		WorkerInboundBuffer: 16,
	}
}

// LoadConfig reads a YAML config file. Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Load("read config "+path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config data over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.ParseFailed("config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.MaxCallStackSize < 0:
		return errors.InvalidInput(errors.PhaseParse, "max_call_stack_size must not be negative")
	case c.WorkerEventBuffer < 0:
		return errors.InvalidInput(errors.PhaseParse, "worker_event_buffer must not be negative")
	case c.WorkerInboundBuffer < 0:
		return errors.InvalidInput(errors.PhaseParse, "worker_inbound_buffer must not be negative")
	case c.SharedMemorySize < 0:
		return errors.InvalidInput(errors.PhaseParse, "shared_memory_size must not be negative")
	}
	return nil
}

// Option configures the collaborators of a Runtime.
type Option func(*Runtime)

// WithResolver replaces the module resolver.
func WithResolver(r Resolver) Option {
	return func(rt *Runtime) { rt.resolver = r }
}

// WithLoader replaces the module loader.
func WithLoader(l Loader) Option {
	return func(rt *Runtime) { rt.loader = l }
}

// WithPermissions replaces the permission checker built from Config.Allow.
func WithPermissions(p Permissions) Option {
	return func(rt *Runtime) { rt.perms = p }
}

// WithStdout sets the default stdout for isolates.
func WithStdout(w io.Writer) Option {
	return func(rt *Runtime) { rt.stdout = w }
}

// WithStderr sets the default stderr for isolates.
func WithStderr(w io.Writer) Option {
	return func(rt *Runtime) { rt.stderr = w }
}

// WithLogger sets the logger used by this runtime and its isolates.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}
