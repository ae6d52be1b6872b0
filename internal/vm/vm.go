// Package vm implements the ownership transition protocol for display
// hardware shared between a primary VM and a trusted VM. Exactly one domain
// owns the hardware at any time; handoff goes through the hypervisor
// resource manager, which lends interrupt lines and memory ranges to the
// other side and reclaims them later.
//
// The protocol is deliberately paranoid about the resource manager: the
// primary caches what it lent and verifies the reclaimed set against it,
// and the trusted side declares up front what it requires and rejects
// anything else. A failed handoff always leaves the previous owner owning.
package vm

import (
	"sync"

	"github.com/trustui/displayvm/internal/pipeline"
	"github.com/trustui/displayvm/internal/resmgr"
)

// Context is the shared mutable state for one domain instance. Every field
// below mu is guarded by it; Ops methods expect it held by the caller.
// The lock is the innermost lock relative to the pipeline's commit lock and
// must never be acquired recursively.
type Context struct {
	mu sync.Mutex

	cookie  resmgr.Cookie
	irqLent int
	ioMem   resmgr.MemHandle

	// pending is the handle of the latest counterpart lend, delivered by
	// notification. Acquire prefers it over ioMem.
	pending resmgr.MemHandle

	pipe    pipeline.Pipeline
	rm      resmgr.ResourceManager
	clients clientList
	ops     Ops
}

// Layer is the always-valid handle call sites hold. A disabled layer (the
// zero value, or Disabled()) answers every call safely: the lock is a
// no-op, Ops returns a no-op table, and Enabled reports false. Callers
// never branch on feature enablement.
type Layer struct {
	ctx *Context
}

// Disabled returns a layer for a build or configuration without the
// ownership-transfer feature.
func Disabled() *Layer { return &Layer{} }

// Enabled reports whether the ownership-transfer feature is configured.
func (l *Layer) Enabled() bool { return l != nil && l.ctx != nil }

// Lock takes the context lock. Call sites hold it across the full
// read-validate-update sequence of an acquire or release, not just the
// final write. Always take the pipeline commit lock first.
func (l *Layer) Lock() {
	if !l.Enabled() {
		return
	}
	l.ctx.mu.Lock()
}

// Unlock releases the context lock.
func (l *Layer) Unlock() {
	if !l.Enabled() {
		return
	}
	l.ctx.mu.Unlock()
}

// Ops returns the operation table bound to this layer's variant, or a
// no-op table when the feature is disabled.
func (l *Layer) Ops() Ops {
	if !l.Enabled() {
		return noopOps{}
	}
	return l.ctx.ops
}

// RegisterClient adds a party to the pre-release/post-acquire fan-out and
// returns an id for Unregister. On a disabled layer it returns 0.
func (l *Layer) RegisterClient(c Client) int {
	if !l.Enabled() || c == nil {
		return 0
	}
	return l.ctx.clients.register(c)
}

// UnregisterClient removes a previously registered client.
func (l *Layer) UnregisterClient(id int) {
	if !l.Enabled() {
		return
	}
	l.ctx.clients.unregister(id)
}

// Deinit tears the layer down, reclaiming or returning any resources the
// domain still has in flight and dropping its notification registration.
func (l *Layer) Deinit() error {
	if !l.Enabled() {
		return nil
	}
	l.Lock()
	defer l.Unlock()
	return l.ctx.ops.Deinit()
}

// InitPrimary builds the ownership layer for the domain that owns the
// hardware by default and lends it out for secure sessions.
func InitPrimary(pipe pipeline.Pipeline, rm resmgr.ResourceManager) (*Layer, error) {
	ctx, err := newContext(pipe, rm)
	if err != nil {
		return nil, err
	}
	p := &primaryVM{ctx: ctx}
	ctx.ops = p
	cookie, err := rm.RegisterNotifier(p.notify)
	if err != nil {
		return nil, err
	}
	ctx.cookie = cookie
	return &Layer{ctx: ctx}, nil
}

// InitTrusted builds the ownership layer for the isolated domain that
// borrows the hardware for trusted-UI sessions. required and requiredMem
// declare the exact resource set the domain needs; anything else delivered
// by the resource manager is rejected.
func InitTrusted(pipe pipeline.Pipeline, rm resmgr.ResourceManager, required resmgr.IRQDescriptor, requiredMem resmgr.SGLDescriptor) (*Layer, error) {
	ctx, err := newContext(pipe, rm)
	if err != nil {
		return nil, err
	}
	t, err := newTrusted(ctx, required, requiredMem)
	if err != nil {
		return nil, err
	}
	ctx.ops = t
	cookie, err := rm.RegisterNotifier(t.notify)
	if err != nil {
		return nil, err
	}
	ctx.cookie = cookie
	return &Layer{ctx: ctx}, nil
}

func newContext(pipe pipeline.Pipeline, rm resmgr.ResourceManager) (*Context, error) {
	if pipe == nil || rm == nil {
		return nil, ErrNotConfigured
	}
	if err := pipe.HardwareIRQs().Validate(); err != nil {
		return nil, err
	}
	if err := pipe.MemoryRanges().Validate(); err != nil {
		return nil, err
	}
	return &Context{
		ioMem:   resmgr.MemHandleUnset,
		pending: resmgr.MemHandleUnset,
		pipe:    pipe,
		rm:      rm,
	}, nil
}

func (c *Context) unregisterNotifier() {
	if c.cookie != 0 {
		c.rm.UnregisterNotifier(c.cookie)
		c.cookie = 0
	}
}
