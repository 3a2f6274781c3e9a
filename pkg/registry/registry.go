// Package registry implements the Execute host-function registry
// (spec.md §9's dynamic-dispatch design note): a map from (module,
// function) identifiers to typed handlers, avoiding reflective runtime
// lookup for the Execute command variant.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/logpos"
)

// HostFunc is the uniform signature every registered host function must
// implement: it receives the live storage handle, the position at which
// it is being invoked, the owning table, and opaque arguments, and returns
// an opaque reply payload or an error.
type HostFunc func(ctx context.Context, h backend.Handle, pos logpos.Position, table string, args []byte) ([]byte, error)

// key identifies a host function by its (module, function) pair.
type key struct{ module, function string }

// Registry is a concurrency-safe map from (module, function) to HostFunc.
// Concurrent-safety is defensive: the engine only ever calls Invoke from
// its single serialized worker, but Register is expected to happen during
// process wiring, potentially before that worker has started.
type Registry struct {
	mu    sync.RWMutex
	funcs map[key]HostFunc
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{funcs: make(map[key]HostFunc)}
}

// Register installs fn under (module, function), replacing any existing
// registration.
func (r *Registry) Register(module, function string, fn HostFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key{module, function}] = fn
}

// ErrNotFound reports a lookup miss.
type ErrNotFound struct {
	Module, Function string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("registry: no host function registered for %s.%s", e.Module, e.Function)
}

// Invoke looks up (module, function) and calls it, converting a panic
// inside the handler into a plain error rather than letting it escape.
// The handle is passed through unchanged; per spec.md §4.4, Execute never
// replaces it, so any host function that wants to mutate storage must do
// so through side channels it owns, not by returning a new handle.
func (r *Registry) Invoke(ctx context.Context, module, function string, h backend.Handle, pos logpos.Position, table string, args []byte) (reply []byte, err error) {
	r.mu.RLock()
	fn, ok := r.funcs[key{module, function}]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrNotFound{Module: module, Function: function}
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("registry: host function %s.%s panicked: %v", module, function, p)
		}
	}()

	return fn(ctx, h, pos, table, args)
}
