package transport

import (
	"bytes"
	"context"
	"strings"
	"sync"
)

const (
	// DefaultRegistryCapacity is the number of functions a Registry holds
	// unless specified otherwise.
	DefaultRegistryCapacity = 8
	// MaxNameLen is the longest function name accepted.
	MaxNameLen = 255
)

// Registry maps function names to handlers.
//
// It is meant to be filled at startup and read by dispatch loops afterwards;
// a Registry may be shared by several Transports.
type Registry struct {
	capacity    int
	middlewares []Middleware
	entries     []registryEntry
	lock        sync.RWMutex
}

type registryEntry struct {
	name    []byte
	handler Handler
}

// NewRegistry creates a Registry holding at most capacity functions.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRegistryCapacity
	}
	return &Registry{capacity: capacity}
}

// Use installs middlewares applied to handlers registered afterwards.
func (r *Registry) Use(middlewares ...Middleware) *Registry {
	r.lock.Lock()
	r.middlewares = append(r.middlewares, middlewares...)
	r.lock.Unlock()
	return r
}

// Register registers handler under name.
func (r *Registry) Register(name string, handler Handler) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if handler == nil {
		return ErrNilHandler
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.entries) >= r.capacity {
		return ErrRegistryFull
	}
	if r.find([]byte(name)) != nil {
		return ErrDuplicateName
	}
	if len(r.middlewares) > 0 {
		handler = Chain(r.middlewares...)(name, handler)
	}
	r.entries = append(r.entries, registryEntry{name: []byte(name), handler: handler})
	return nil
}

// RegisterFunc registers fn under name.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, args []byte) ([]byte, error)) error {
	if fn == nil {
		return ErrNilHandler
	}
	return r.Register(name, HandlerFunc(fn))
}

// Lookup finds the handler registered under exactly name.
func (r *Registry) Lookup(name []byte) Handler {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if entry := r.find(name); entry != nil {
		return entry.handler
	}
	return nil
}

// Names lists registered names in registration order.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, len(r.entries))
	for n, entry := range r.entries {
		names[n] = string(entry.name)
	}
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.entries)
}

// Capacity returns the maximum number of functions.
func (r *Registry) Capacity() int {
	return r.capacity
}

func (r *Registry) find(name []byte) *registryEntry {
	for i := range r.entries {
		if entry := &r.entries[i]; len(entry.name) == len(name) && bytes.Equal(entry.name, name) {
			return entry
		}
	}
	return nil
}

// ValidateName checks name can be carried by a Request.
func ValidateName(name string) error {
	switch {
	case name == "":
		return ErrEmptyName
	case len(name) > MaxNameLen:
		return ErrNameTooLong
	case strings.IndexByte(name, 0) >= 0:
		return ErrInvalidName
	}
	return nil
}
