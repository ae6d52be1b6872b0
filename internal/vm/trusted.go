package vm

import (
	"fmt"
	"log/slog"

	"github.com/trustui/displayvm/internal/irqline"
	"github.com/trustui/displayvm/internal/pipeline"
	"github.com/trustui/displayvm/internal/resmgr"
)

// trustedVM is the variant for the isolated domain that borrows the
// hardware for a trusted-UI session. It declares the exact interrupt set
// and memory scatter-list it needs at init and refuses anything else the
// resource manager delivers.
type trustedVM struct {
	ctx *Context

	required    resmgr.IRQDescriptor
	requiredMem resmgr.SGLDescriptor
	lines       *irqline.Registry

	// lentBack is set while the accepted resource set has been returned
	// but not yet reclaimed by the primary. Distinguishes "lent an empty
	// interrupt set back" from "still owning".
	lentBack bool
}

func newTrusted(ctx *Context, required resmgr.IRQDescriptor, requiredMem resmgr.SGLDescriptor) (*trustedVM, error) {
	if err := required.Validate(); err != nil {
		return nil, err
	}
	if err := requiredMem.Validate(); err != nil {
		return nil, err
	}
	lines, err := irqline.New(required)
	if err != nil {
		return nil, err
	}
	return &trustedVM{
		ctx:         ctx,
		required:    required.Clone(),
		requiredMem: requiredMem.Clone(),
		lines:       lines,
	}, nil
}

// The trusted domain owns the hardware while it holds an accepted transfer
// and has not lent it back.
func (t *trustedVM) OwnsHardware() bool {
	return t.ctx.ioMem.Valid() && !t.lentBack
}

func (t *trustedVM) Acquire() error {
	ctx := t.ctx
	if t.OwnsHardware() {
		return nil
	}
	if !ctx.pending.Valid() {
		return fmt.Errorf("vm: trusted acquire: no transfer offered: %w", ErrTransferFailed)
	}

	irqs, mem, err := ctx.rm.Reclaim(ctx.pending)
	if err != nil {
		return fmt.Errorf("vm: trusted accept: %w: %w", ErrTransferFailed, err)
	}

	// No handler is installed until the whole delivered set is known to
	// match the declared one.
	if !irqs.Equal(t.required) {
		slog.Error("delivered interrupt set does not match declared set",
			"pipeline", ctx.pipe.Name(),
			"declared", t.required.Count(), "delivered", irqs.Count())
		return fmt.Errorf("vm: trusted accept: interrupt set: %w", ErrDescriptorMismatch)
	}
	if !mem.Equal(t.requiredMem) {
		slog.Error("delivered memory ranges do not match declared ranges",
			"pipeline", ctx.pipe.Name())
		return fmt.Errorf("vm: trusted accept: memory ranges: %w", ErrDescriptorMismatch)
	}

	for _, e := range irqs.Entries {
		if err := t.lines.Install(e.Label, nil); err != nil {
			t.lines.UninstallAll()
			return fmt.Errorf("vm: trusted accept: irq label %d: %w: %w", e.Label, ErrDescriptorMismatch, err)
		}
	}

	ctx.ioMem = ctx.pending
	ctx.pending = resmgr.MemHandleUnset
	ctx.irqLent = 0
	t.lentBack = false
	return nil
}

func (t *trustedVM) Release() error {
	ctx := t.ctx
	if !t.OwnsHardware() {
		return fmt.Errorf("vm: trusted release: not hardware owner: %w", ErrInvalidTransition)
	}

	if err := t.Check(); err != nil {
		return err
	}

	// The trusted domain returns exactly the set it declared and accepted.
	if got := ctx.pipe.HardwareIRQs(); got.Count() != 0 && !got.Equal(t.required) {
		return fmt.Errorf("vm: trusted release: configured interrupt set changed: %w", ErrDescriptorMismatch)
	}

	if err := t.ClientPreRelease(); err != nil {
		return err
	}

	handle, err := ctx.rm.Lend(t.required.Clone(), t.requiredMem.Clone())
	if err != nil {
		return fmt.Errorf("vm: trusted lend: %w: %w", ErrTransferFailed, err)
	}

	t.lines.UninstallAll()
	ctx.irqLent = t.required.Count()
	ctx.ioMem = handle
	ctx.pending = resmgr.MemHandleUnset
	t.lentBack = true
	return nil
}

// PrepareCommit accepts the offered hardware for displays entering a
// secure session, then restores client state.
func (t *trustedVM) PrepareCommit(state *pipeline.CommitState) error {
	if len(state.Entering(pipeline.ReqSessionActive)) == 0 {
		return nil
	}
	if err := t.Acquire(); err != nil {
		return err
	}
	return t.ClientPostAcquire()
}

// PostCommit returns the hardware once the final secure frame has been
// programmed and the session is ending.
func (t *trustedVM) PostCommit(state *pipeline.CommitState) error {
	if len(state.Entering(pipeline.ReqReleaseRequested)) == 0 {
		return nil
	}
	return t.Release()
}

func (t *trustedVM) Check() error {
	return t.ctx.clients.ready()
}

func (t *trustedVM) ClientPreRelease() error {
	return t.ctx.clients.preRelease()
}

func (t *trustedVM) ClientPostAcquire() error {
	return t.ctx.clients.postAcquire()
}

func (t *trustedVM) RequestValid(old, new pipeline.Req) error {
	return requestValid(trustedTransitions, old, new)
}

func (t *trustedVM) Deinit() error {
	ctx := t.ctx
	defer ctx.unregisterNotifier()
	if t.OwnsHardware() {
		return t.Release()
	}
	t.lines.UninstallAll()
	return nil
}

// notify tracks the counterpart's lends and reclaims. A reclaim of the set
// this domain lent back completes the handoff cycle and clears its record.
func (t *trustedVM) notify(n resmgr.Notification) {
	t.ctx.mu.Lock()
	defer t.ctx.mu.Unlock()
	switch n.Kind {
	case resmgr.TransferReady:
		t.ctx.pending = n.Handle
	case resmgr.TransferReclaimed:
		if n.Handle == t.ctx.ioMem {
			t.ctx.ioMem = resmgr.MemHandleUnset
			t.ctx.irqLent = 0
			t.lentBack = false
		}
	}
}

var _ Ops = (*trustedVM)(nil)
