package vm

import (
	"errors"
	"testing"

	"github.com/trustui/displayvm/internal/pipeline"
	"github.com/trustui/displayvm/internal/resmgr"
)

func testGeometry() (resmgr.IRQDescriptor, resmgr.SGLDescriptor) {
	irqs := resmgr.IRQDescriptor{Entries: []resmgr.IRQEntry{
		{Label: 1, Line: 33},
		{Label: 2, Line: 34},
		{Label: 3, Line: 35},
	}}
	mem := resmgr.SGLDescriptor{Ranges: []resmgr.MemoryRange{
		{Base: 0xae00000, Size: 0x100000},
		{Base: 0x9e000000, Size: 0x2300000},
	}}
	return irqs, mem
}

type harness struct {
	lb      *resmgr.Loopback
	pipe    *pipeline.Static
	primary *Layer
	trusted *Layer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	irqs, mem := testGeometry()
	pipe := &pipeline.Static{DisplayName: "display0", IRQs: irqs, Memory: mem}
	lb := resmgr.NewLoopback()

	primary, err := InitPrimary(pipe, lb.Client(resmgr.DomainPrimary))
	if err != nil {
		t.Fatalf("InitPrimary: %v", err)
	}
	trusted, err := InitTrusted(pipe, lb.Client(resmgr.DomainTrusted), irqs, mem)
	if err != nil {
		t.Fatalf("InitTrusted: %v", err)
	}
	return &harness{lb: lb, pipe: pipe, primary: primary, trusted: trusted}
}

// locked runs fn with the layer lock held, the way call sites must.
func locked(l *Layer, fn func(Ops) error) error {
	l.Lock()
	defer l.Unlock()
	return fn(l.Ops())
}

func owns(l *Layer) bool {
	l.Lock()
	defer l.Unlock()
	return l.Ops().OwnsHardware()
}

func TestDisabledLayer(t *testing.T) {
	layer := Disabled()
	if layer.Enabled() {
		t.Fatalf("disabled layer reports enabled")
	}
	// Lock, Unlock and every op must be safe without any configuration.
	layer.Lock()
	layer.Unlock()
	ops := layer.Ops()
	if !ops.OwnsHardware() {
		t.Fatalf("disabled layer must report hardware as owned")
	}
	if err := ops.Acquire(); err != nil {
		t.Fatalf("disabled acquire: %v", err)
	}
	if err := ops.Release(); err != nil {
		t.Fatalf("disabled release: %v", err)
	}
	if err := ops.RequestValid(pipeline.ReqNone, pipeline.ReqSessionActive); err != nil {
		t.Fatalf("disabled request validation: %v", err)
	}
	if id := layer.RegisterClient(&recordingClient{}); id != 0 {
		t.Fatalf("disabled layer registered a client: id=%d", id)
	}
	if err := layer.Deinit(); err != nil {
		t.Fatalf("disabled deinit: %v", err)
	}
}

func TestInitWithoutCollaborators(t *testing.T) {
	if _, err := InitPrimary(nil, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("InitPrimary(nil, nil) = %v, want ErrNotConfigured", err)
	}
}

func TestPrimaryStartsAsOwner(t *testing.T) {
	h := newHarness(t)
	if !owns(h.primary) {
		t.Fatalf("primary must own the hardware after init")
	}
	if owns(h.trusted) {
		t.Fatalf("trusted must not own the hardware after init")
	}
}

func TestPrimaryAcquireIdempotent(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		if err := locked(h.primary, Ops.Acquire); err != nil {
			t.Fatalf("acquire %d on owning primary: %v", i, err)
		}
	}
	ctx := h.primary.ctx
	if ctx.irqLent != 0 || ctx.ioMem.Valid() {
		t.Fatalf("acquire on owner changed state: irqLent=%d ioMem=%d", ctx.irqLent, ctx.ioMem)
	}
	if h.lb.Outstanding() != 0 {
		t.Fatalf("acquire on owner contacted the resource manager")
	}
}

func TestPrimaryReleaseLendsResources(t *testing.T) {
	h := newHarness(t)
	if err := locked(h.primary, Ops.Release); err != nil {
		t.Fatalf("release: %v", err)
	}
	ctx := h.primary.ctx
	if ctx.irqLent != 3 {
		t.Fatalf("lent-count = %d, want 3", ctx.irqLent)
	}
	if !ctx.ioMem.Valid() {
		t.Fatalf("memory handle still unset after release")
	}
	if owns(h.primary) {
		t.Fatalf("primary still owns hardware after release")
	}
	if h.lb.Outstanding() != 1 {
		t.Fatalf("outstanding transfers = %d, want 1", h.lb.Outstanding())
	}
}

func TestPrimaryReleaseAcquireRoundTrip(t *testing.T) {
	h := newHarness(t)
	if err := locked(h.primary, Ops.Release); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := locked(h.primary, Ops.Acquire); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx := h.primary.ctx
	if !owns(h.primary) || ctx.irqLent != 0 || ctx.ioMem.Valid() {
		t.Fatalf("round trip left state dirty: irqLent=%d ioMem=%d", ctx.irqLent, ctx.ioMem)
	}
	if h.lb.Outstanding() != 0 {
		t.Fatalf("outstanding transfers = %d, want 0", h.lb.Outstanding())
	}
}

func TestPrimaryReclaimMismatch(t *testing.T) {
	h := newHarness(t)
	if err := locked(h.primary, Ops.Release); err != nil {
		t.Fatalf("release: %v", err)
	}
	h.lb.SetReclaimTamper(func(irqs resmgr.IRQDescriptor, mem resmgr.SGLDescriptor) (resmgr.IRQDescriptor, resmgr.SGLDescriptor) {
		irqs.Entries = append(irqs.Entries, resmgr.IRQEntry{Label: 99, Line: 99})
		return irqs, mem
	})

	err := locked(h.primary, Ops.Acquire)
	if !errors.Is(err, ErrDescriptorMismatch) {
		t.Fatalf("acquire error = %v, want ErrDescriptorMismatch", err)
	}
	// Ownership state frozen at its pre-call value.
	ctx := h.primary.ctx
	if ctx.irqLent != 3 || !ctx.ioMem.Valid() {
		t.Fatalf("mismatch mutated state: irqLent=%d ioMem=%d", ctx.irqLent, ctx.ioMem)
	}
	if owns(h.primary) {
		t.Fatalf("primary claims ownership after failed reclaim")
	}
}

func TestPrimaryReleaseTransferFailed(t *testing.T) {
	h := newHarness(t)
	injected := errors.New("rm down")
	h.lb.SetLendError(injected)

	err := locked(h.primary, Ops.Release)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("release error = %v, want ErrTransferFailed", err)
	}
	if !owns(h.primary) {
		t.Fatalf("failed release lost ownership")
	}
	ctx := h.primary.ctx
	if ctx.irqLent != 0 || ctx.ioMem.Valid() {
		t.Fatalf("failed release mutated state: irqLent=%d ioMem=%d", ctx.irqLent, ctx.ioMem)
	}
}

func TestPrimaryReleaseClientVeto(t *testing.T) {
	h := newHarness(t)
	veto := errors.New("secure frame in flight")
	h.primary.RegisterClient(&recordingClient{readyErr: veto})

	err := locked(h.primary, Ops.Release)
	if !errors.Is(err, ErrClientNotReady) {
		t.Fatalf("release error = %v, want ErrClientNotReady", err)
	}
	if !errors.Is(err, veto) {
		t.Fatalf("veto cause not preserved: %v", err)
	}
	if h.lb.Outstanding() != 0 {
		t.Fatalf("vetoed release contacted the resource manager")
	}
	if h.primary.ctx.irqLent != 0 {
		t.Fatalf("vetoed release changed lent-count")
	}
}

func TestTrustedAcquireWithoutOffer(t *testing.T) {
	h := newHarness(t)
	err := locked(h.trusted, Ops.Acquire)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("acquire without offer = %v, want ErrTransferFailed", err)
	}
	if owns(h.trusted) {
		t.Fatalf("trusted owns hardware without a transfer")
	}
}

func TestFullHandoffCycle(t *testing.T) {
	h := newHarness(t)

	assertExclusive := func(step string) {
		t.Helper()
		if owns(h.primary) && owns(h.trusted) {
			t.Fatalf("%s: both domains own the hardware", step)
		}
	}

	if err := locked(h.primary, Ops.Release); err != nil {
		t.Fatalf("primary release: %v", err)
	}
	h.lb.Settle()
	assertExclusive("after primary release")

	if err := locked(h.trusted, Ops.Acquire); err != nil {
		t.Fatalf("trusted acquire: %v", err)
	}
	assertExclusive("after trusted acquire")
	if !owns(h.trusted) {
		t.Fatalf("trusted does not own hardware after acquire")
	}
	if tr := h.trusted.ctx.ops.(*trustedVM); tr.lines.Installed() != 3 {
		t.Fatalf("installed handlers = %d, want 3", tr.lines.Installed())
	}

	if err := locked(h.trusted, Ops.Release); err != nil {
		t.Fatalf("trusted release: %v", err)
	}
	h.lb.Settle()
	assertExclusive("after trusted release")

	if err := locked(h.primary, Ops.Acquire); err != nil {
		t.Fatalf("primary reacquire: %v", err)
	}
	h.lb.Settle()
	assertExclusive("after primary reacquire")

	if !owns(h.primary) {
		t.Fatalf("primary does not own hardware after reacquire")
	}
	if owns(h.trusted) {
		t.Fatalf("trusted still owns hardware after primary reacquire")
	}
	if tr := h.trusted.ctx.ops.(*trustedVM); tr.lines.Installed() != 0 {
		t.Fatalf("trusted still has %d handlers installed", tr.lines.Installed())
	}
	if h.lb.Outstanding() != 0 {
		t.Fatalf("outstanding transfers = %d, want 0", h.lb.Outstanding())
	}
}

func TestTrustedAcquireIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := locked(h.primary, Ops.Release); err != nil {
		t.Fatalf("primary release: %v", err)
	}
	h.lb.Settle()
	for i := 0; i < 2; i++ {
		if err := locked(h.trusted, Ops.Acquire); err != nil {
			t.Fatalf("trusted acquire %d: %v", i, err)
		}
	}
	if got := h.trusted.ctx.ops.(*trustedVM).lines.Installed(); got != 3 {
		t.Fatalf("installed handlers = %d, want 3", got)
	}
}

func TestTrustedRejectsUndeclaredInterrupts(t *testing.T) {
	irqs, mem := testGeometry()
	pipe := &pipeline.Static{DisplayName: "display0", IRQs: irqs, Memory: mem}
	lb := resmgr.NewLoopback()

	primary, err := InitPrimary(pipe, lb.Client(resmgr.DomainPrimary))
	if err != nil {
		t.Fatalf("InitPrimary: %v", err)
	}
	// The trusted domain declares only two of the three lines the primary
	// will lend.
	declared := resmgr.IRQDescriptor{Entries: irqs.Entries[:2]}
	trusted, err := InitTrusted(pipe, lb.Client(resmgr.DomainTrusted), declared, mem)
	if err != nil {
		t.Fatalf("InitTrusted: %v", err)
	}

	if err := locked(primary, Ops.Release); err != nil {
		t.Fatalf("primary release: %v", err)
	}
	lb.Settle()

	acqErr := locked(trusted, Ops.Acquire)
	if !errors.Is(acqErr, ErrDescriptorMismatch) {
		t.Fatalf("trusted acquire = %v, want ErrDescriptorMismatch", acqErr)
	}
	if owns(trusted) {
		t.Fatalf("trusted owns hardware after rejected delivery")
	}
	tr := trusted.ctx.ops.(*trustedVM)
	if tr.lines.Installed() != 0 {
		t.Fatalf("handlers installed for a rejected delivery: %d", tr.lines.Installed())
	}
	if tr.lines.Declared(3) {
		t.Fatalf("undeclared label 3 leaked into the registry")
	}
}

func TestPrimaryDeinitReclaimsLentResources(t *testing.T) {
	h := newHarness(t)
	if err := locked(h.primary, Ops.Release); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := h.primary.Deinit(); err != nil {
		t.Fatalf("deinit: %v", err)
	}
	if h.lb.Outstanding() != 0 {
		t.Fatalf("deinit left %d transfers outstanding", h.lb.Outstanding())
	}
	if !owns(h.primary) {
		t.Fatalf("deinit did not restore ownership")
	}
}

func TestTrustedDeinitReturnsHardware(t *testing.T) {
	h := newHarness(t)
	if err := locked(h.primary, Ops.Release); err != nil {
		t.Fatalf("primary release: %v", err)
	}
	h.lb.Settle()
	if err := locked(h.trusted, Ops.Acquire); err != nil {
		t.Fatalf("trusted acquire: %v", err)
	}

	if err := h.trusted.Deinit(); err != nil {
		t.Fatalf("trusted deinit: %v", err)
	}
	if owns(h.trusted) {
		t.Fatalf("trusted still owns hardware after deinit")
	}
	h.lb.Settle()
	if err := locked(h.primary, Ops.Acquire); err != nil {
		t.Fatalf("primary reacquire after trusted deinit: %v", err)
	}
}

type recordingClient struct {
	readyErr error
	calls    []string
}

func (c *recordingClient) Ready() error {
	c.calls = append(c.calls, "ready")
	return c.readyErr
}

func (c *recordingClient) PreRelease() error {
	c.calls = append(c.calls, "pre-release")
	return nil
}

func (c *recordingClient) PostAcquire() error {
	c.calls = append(c.calls, "post-acquire")
	return nil
}
