package runtime

import (
	"sync"

	"github.com/juju/errors"

	"github.com/warriorguo/riskflow/nodes"
	"github.com/warriorguo/riskflow/types"
)

// Registry maps node kinds to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.NodeKind]types.NodeHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.NodeKind]types.NodeHandler)}
}

// NewDefaultRegistry returns a registry holding every built-in node.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, handler := range nodes.Handlers() {
		r.handlers[kind] = handler
	}
	return r
}

func (r *Registry) Register(kind types.NodeKind, handler types.NodeHandler) error {
	if handler == nil {
		return errors.BadRequestf("node kind:%s handler is nil", kind)
	}
	if kind == types.KindUnknown {
		return errors.NotValidf("node kind %d", int(kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return errors.AlreadyExistsf("node kind: %s", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// Replace installs handler for kind whether or not one was registered.
func (r *Registry) Replace(kind types.NodeKind, handler types.NodeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// Resolve looks up the handler for a workflow type tag.
func (r *Registry) Resolve(tag string) (types.NodeKind, types.NodeHandler, bool) {
	kind, known := types.ParseNodeKind(tag)
	if !known || r == nil {
		return kind, nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[kind]
	return kind, handler, exists
}
