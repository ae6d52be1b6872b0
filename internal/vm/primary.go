package vm

import (
	"fmt"
	"log/slog"

	"github.com/trustui/displayvm/internal/pipeline"
	"github.com/trustui/displayvm/internal/resmgr"
)

// primaryVM is the variant for the domain that owns the hardware by
// default. It lends the display resources out for a secure session and
// verifies, on reclaim, that the resource manager handed back exactly the
// set that was lent.
type primaryVM struct {
	ctx *Context

	// cached is the descriptor of the currently lent interrupt set, kept
	// so the reclaimed set can be verified. Read-only while lent.
	cached    resmgr.IRQDescriptor
	hasCached bool
}

func (p *primaryVM) OwnsHardware() bool {
	return p.ctx.irqLent == 0 && !p.ctx.ioMem.Valid()
}

func (p *primaryVM) Acquire() error {
	ctx := p.ctx
	if p.OwnsHardware() {
		return nil
	}

	handle := ctx.pending
	if !handle.Valid() {
		handle = ctx.ioMem
	}
	irqs, mem, err := ctx.rm.Reclaim(handle)
	if err != nil {
		return fmt.Errorf("vm: primary reclaim: %w: %w", ErrTransferFailed, err)
	}

	if !p.hasCached || !irqs.Equal(p.cached) {
		slog.Error("reclaimed interrupt set does not match lent set",
			"pipeline", ctx.pipe.Name(),
			"lent", p.cached.Count(), "reclaimed", irqs.Count())
		return fmt.Errorf("vm: primary reclaim: interrupt set: %w", ErrDescriptorMismatch)
	}
	if !mem.Equal(ctx.pipe.MemoryRanges()) {
		slog.Error("reclaimed memory ranges do not match lent ranges",
			"pipeline", ctx.pipe.Name())
		return fmt.Errorf("vm: primary reclaim: memory ranges: %w", ErrDescriptorMismatch)
	}

	p.cached = resmgr.IRQDescriptor{}
	p.hasCached = false
	ctx.irqLent = 0
	ctx.ioMem = resmgr.MemHandleUnset
	ctx.pending = resmgr.MemHandleUnset
	return nil
}

func (p *primaryVM) Release() error {
	ctx := p.ctx
	if !p.OwnsHardware() {
		return fmt.Errorf("vm: primary release: hardware already lent: %w", ErrInvalidTransition)
	}

	if err := p.Check(); err != nil {
		return err
	}

	irqs := ctx.pipe.HardwareIRQs()
	mem := ctx.pipe.MemoryRanges()
	if err := irqs.Validate(); err != nil {
		return fmt.Errorf("vm: primary release: %w: %w", ErrDescriptorMismatch, err)
	}
	if err := mem.Validate(); err != nil {
		return fmt.Errorf("vm: primary release: %w: %w", ErrDescriptorMismatch, err)
	}

	if err := p.ClientPreRelease(); err != nil {
		return err
	}

	handle, err := ctx.rm.Lend(irqs, mem)
	if err != nil {
		return fmt.Errorf("vm: primary lend: %w: %w", ErrTransferFailed, err)
	}

	p.cached = irqs.Clone()
	p.hasCached = true
	ctx.irqLent = irqs.Count()
	ctx.ioMem = handle
	ctx.pending = resmgr.MemHandleUnset
	return nil
}

// PrepareCommit reacquires the hardware for displays leaving a secure
// session, then restores client state, before any register programming.
func (p *primaryVM) PrepareCommit(state *pipeline.CommitState) error {
	if !state.HasTransition(pipeline.ReqReleaseRequested, pipeline.ReqNone) {
		return nil
	}
	if err := p.Acquire(); err != nil {
		return err
	}
	return p.ClientPostAcquire()
}

// PostCommit hands the hardware off once the final frame of a commit that
// starts a secure session has been programmed.
func (p *primaryVM) PostCommit(state *pipeline.CommitState) error {
	if len(state.Entering(pipeline.ReqSessionActive)) == 0 {
		return nil
	}
	return p.Release()
}

func (p *primaryVM) Check() error {
	return p.ctx.clients.ready()
}

func (p *primaryVM) ClientPreRelease() error {
	return p.ctx.clients.preRelease()
}

func (p *primaryVM) ClientPostAcquire() error {
	return p.ctx.clients.postAcquire()
}

func (p *primaryVM) RequestValid(old, new pipeline.Req) error {
	return requestValid(primaryTransitions, old, new)
}

func (p *primaryVM) Deinit() error {
	ctx := p.ctx
	defer ctx.unregisterNotifier()
	if p.OwnsHardware() {
		return nil
	}
	return p.Acquire()
}

// notify records counterpart lends so a later Acquire reclaims the right
// transfer. Runs on the resource manager's delivery context.
func (p *primaryVM) notify(n resmgr.Notification) {
	if n.Kind != resmgr.TransferReady {
		return
	}
	p.ctx.mu.Lock()
	p.ctx.pending = n.Handle
	p.ctx.mu.Unlock()
}

var _ Ops = (*primaryVM)(nil)
