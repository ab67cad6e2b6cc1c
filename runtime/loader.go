package runtime

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/wippyai/isolate-runtime/errors"
)

// Loader fetches the source text of a resolved module URL.
// Load may block and is called off the event loop.
type Loader interface {
	Load(ctx context.Context, moduleURL string) (string, error)
}

// FileLoader loads file:// URLs from the local filesystem.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(ctx context.Context, moduleURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Load("load "+moduleURL, err)
	}
	u, err := url.Parse(moduleURL)
	if err != nil {
		return "", errors.Load("load "+moduleURL, err)
	}
	if u.Scheme != "file" {
		return "", errors.Load("load "+moduleURL,
			errors.InvalidInput(errors.PhaseLoad, "unsupported scheme \""+u.Scheme+"\""))
	}
	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	if err != nil {
		return "", errors.Load("load "+moduleURL, err)
	}
	return string(data), nil
}

// MapLoader serves module sources from memory, keyed by URL.
// It is safe for concurrent use.
type MapLoader struct {
	sources map[string]string
	mu      sync.RWMutex
}

// NewMapLoader returns a loader over a copy of sources.
func NewMapLoader(sources map[string]string) *MapLoader {
	m := &MapLoader{sources: make(map[string]string, len(sources))}
	for k, v := range sources {
		m.sources[k] = v
	}
	return m
}

// Set adds or replaces a module source.
func (m *MapLoader) Set(moduleURL, source string) {
	m.mu.Lock()
	m.sources[moduleURL] = source
	m.mu.Unlock()
}

// Load implements Loader.
func (m *MapLoader) Load(ctx context.Context, moduleURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Load("load "+moduleURL, err)
	}
	m.mu.RLock()
	src, ok := m.sources[moduleURL]
	m.mu.RUnlock()
	if !ok {
		return "", errors.NotFound(errors.PhaseLoad, "module", moduleURL)
	}
	return src, nil
}
