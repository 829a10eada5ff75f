// Package registry maps engine keys to lazily built, process-wide engine handles.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/metrics"
)

// Factory builds one engine. It runs at most once per successful key.
type Factory func() (core.Extractor, error)

// Factories is the startup table of engine keys to constructors.
type Factories map[string]Factory

// Registry owns the engine cache. The factory table is copied on creation and
// never changes afterwards.
type Registry struct {
	factories map[string]Factory
	keys      []string
	logger    *slog.Logger

	mu      sync.RWMutex
	engines map[string]*core.Engine
	group   singleflight.Group
}

// New copies factories into a fresh registry.
func New(factories Factories, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		factories: make(map[string]Factory, len(factories)),
		logger:    logger.With("component", "registry"),
		engines:   make(map[string]*core.Engine, len(factories)),
	}
	for k, f := range factories {
		r.factories[k] = f
		r.keys = append(r.keys, k)
	}
	sort.Strings(r.keys)
	return r
}

// Keys returns the registered engine keys in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Loaded reports whether key has already been constructed.
func (r *Registry) Loaded(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.engines[key]
	return ok
}

// Load returns the engine bound to key, constructing it on first use.
// Every successful call for the same key returns the same pointer.
// Concurrent first calls share a single construction.
func (r *Registry) Load(key string) (*core.Engine, error) {
	if eng := r.cached(key); eng != nil {
		return eng, nil
	}

	factory, ok := r.factories[key]
	if !ok {
		return nil, errs.NewEngineError(fmt.Sprintf("unknown engine %q", key), errs.CodeEngineNotFound,
			errs.Recoverable(false),
			errs.WithFields(map[string]any{
				"engine_name":       key,
				"available_engines": r.Keys(),
			}),
			errs.WithSuggestion("use one of the registered engine keys"),
		)
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if eng := r.cached(key); eng != nil {
			return eng, nil
		}
		eng, err := r.construct(key, factory)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.engines[key] = eng
		r.mu.Unlock()
		return eng, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Engine), nil
}

// MustLoad is Load for startup wiring where a missing engine is a programming error.
func (r *Registry) MustLoad(key string) *core.Engine {
	eng, err := r.Load(key)
	if err != nil {
		panic(err)
	}
	return eng
}

func (r *Registry) cached(key string) *core.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines[key]
}

func (r *Registry) construct(key string, factory Factory) (eng *core.Engine, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine constructor panicked: %v", p)
		}
		if err != nil {
			metrics.EngineConstructions.WithLabelValues(key, "error").Inc()
			err = errs.NewEngineError(fmt.Sprintf("failed to initialize engine %q", key), errs.CodeEngineInitFailed,
				errs.WithCause(err),
				errs.WithFields(map[string]any{"engine_name": key}),
			)
			eng = nil
		}
	}()

	ex, err := factory()
	if err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, fmt.Errorf("constructor returned nil engine")
	}
	metrics.EngineConstructions.WithLabelValues(key, "ok").Inc()
	r.logger.Info("engine initialized", "engine", key, "mode", ex.Mode().String())
	return core.NewEngine(ex, r.logger), nil
}
