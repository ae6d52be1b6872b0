// Package irqline tracks which lent interrupt lines a domain has handlers
// installed for. A handler may only be installed for a line the domain
// declared up front; anything else is treated as untrusted input and
// rejected.
package irqline

import (
	"errors"
	"sync"

	"github.com/trustui/displayvm/internal/resmgr"
)

var (
	ErrUndeclaredLine   = errors.New("irqline: line not declared")
	ErrAlreadyInstalled = errors.New("irqline: handler already installed")
)

// Registry maps declared interrupt labels to their local line numbers and
// the handlers currently installed for them.
type Registry struct {
	mu        sync.Mutex
	declared  map[uint32]uint32
	installed map[uint32]func()
}

// New builds a registry from the declared descriptor. The descriptor must
// validate; duplicate labels are a configuration error.
func New(desc resmgr.IRQDescriptor) (*Registry, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	declared := make(map[uint32]uint32, desc.Count())
	for _, e := range desc.Entries {
		declared[e.Label] = e.Line
	}
	return &Registry{
		declared:  declared,
		installed: make(map[uint32]func()),
	}, nil
}

// Declared reports whether the label was declared at construction.
func (r *Registry) Declared(label uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.declared[label]
	return ok
}

// Install binds a handler to a declared line. Undeclared labels are
// rejected; handlers are never installed for lines the domain did not ask
// for.
func (r *Registry) Install(label uint32, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.declared[label]; !ok {
		return ErrUndeclaredLine
	}
	if _, ok := r.installed[label]; ok {
		return ErrAlreadyInstalled
	}
	if fn == nil {
		fn = func() {}
	}
	r.installed[label] = fn
	return nil
}

// Uninstall removes the handler for a label, if any.
func (r *Registry) Uninstall(label uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.installed, label)
}

// UninstallAll removes every installed handler.
func (r *Registry) UninstallAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installed = make(map[uint32]func())
}

// Installed returns the number of lines with handlers.
func (r *Registry) Installed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.installed)
}

// Trigger invokes the handler for a label and reports whether one was
// installed.
func (r *Registry) Trigger(label uint32) bool {
	r.mu.Lock()
	fn, ok := r.installed[label]
	r.mu.Unlock()
	if !ok {
		return false
	}
	fn()
	return true
}
