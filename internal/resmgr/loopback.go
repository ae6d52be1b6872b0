package resmgr

import "sync"

// Loopback is an in-process resource manager connecting the domains of a
// single test or simulation. It tracks outstanding transfers, delivers
// notifications to the counterpart domain, and supports fault injection so
// protocol error paths can be exercised without a hypervisor.
type Loopback struct {
	mu         sync.Mutex
	nextHandle MemHandle
	nextCookie Cookie
	transfers  map[MemHandle]*transfer
	notifiers  map[Cookie]notifier

	lendErr    error
	reclaimErr error
	tamper     func(IRQDescriptor, SGLDescriptor) (IRQDescriptor, SGLDescriptor)

	deliverMu sync.Mutex
	pending   sync.WaitGroup
}

type transfer struct {
	from Domain
	irqs IRQDescriptor
	mem  SGLDescriptor
}

type notifier struct {
	domain Domain
	fn     NotifyFunc
}

// NewLoopback returns an empty loopback resource manager.
func NewLoopback() *Loopback {
	return &Loopback{
		transfers: make(map[MemHandle]*transfer),
		notifiers: make(map[Cookie]notifier),
	}
}

// Client returns the named domain's connection to the loopback.
func (l *Loopback) Client(d Domain) ResourceManager {
	return &loopbackClient{lb: l, domain: d}
}

// SetLendError makes every subsequent Lend fail with err until cleared.
func (l *Loopback) SetLendError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lendErr = err
}

// SetReclaimError makes every subsequent Reclaim fail with err until cleared.
func (l *Loopback) SetReclaimError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reclaimErr = err
}

// SetReclaimTamper rewrites the descriptors returned by Reclaim, simulating
// a resource manager that hands back a different set than was lent.
func (l *Loopback) SetReclaimTamper(fn func(IRQDescriptor, SGLDescriptor) (IRQDescriptor, SGLDescriptor)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tamper = fn
}

// Outstanding returns the number of lends not yet reclaimed.
func (l *Loopback) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transfers)
}

// Settle blocks until all queued notifications have been delivered.
func (l *Loopback) Settle() {
	l.pending.Wait()
}

func (l *Loopback) lend(from Domain, irqs IRQDescriptor, mem SGLDescriptor) (MemHandle, error) {
	l.mu.Lock()
	if l.lendErr != nil {
		err := l.lendErr
		l.mu.Unlock()
		return MemHandleUnset, err
	}
	if len(l.transfers) != 0 {
		l.mu.Unlock()
		return MemHandleUnset, ErrTransferOutstanding
	}
	l.nextHandle++
	handle := l.nextHandle
	l.transfers[handle] = &transfer{from: from, irqs: irqs.Clone(), mem: mem.Clone()}
	l.mu.Unlock()

	l.notify(from, Notification{
		Kind:   TransferReady,
		From:   from,
		Handle: handle,
		IRQs:   irqs.Clone(),
		Memory: mem.Clone(),
	})
	return handle, nil
}

func (l *Loopback) reclaim(to Domain, handle MemHandle) (IRQDescriptor, SGLDescriptor, error) {
	l.mu.Lock()
	if l.reclaimErr != nil {
		err := l.reclaimErr
		l.mu.Unlock()
		return IRQDescriptor{}, SGLDescriptor{}, err
	}
	tr, ok := l.transfers[handle]
	if !ok {
		l.mu.Unlock()
		return IRQDescriptor{}, SGLDescriptor{}, ErrUnknownHandle
	}
	delete(l.transfers, handle)
	irqs, mem := tr.irqs, tr.mem
	if l.tamper != nil {
		irqs, mem = l.tamper(irqs, mem)
	}
	l.mu.Unlock()

	l.notify(to, Notification{
		Kind:   TransferReclaimed,
		From:   to,
		Handle: handle,
		IRQs:   irqs.Clone(),
		Memory: mem.Clone(),
	})
	return irqs, mem, nil
}

// notify delivers n to every domain other than the one that caused it.
// Delivery is asynchronous: callers hold protocol locks while talking to the
// resource manager, and a synchronous callback would re-enter them.
func (l *Loopback) notify(from Domain, n Notification) {
	l.mu.Lock()
	var targets []NotifyFunc
	for _, nt := range l.notifiers {
		if nt.domain != from {
			targets = append(targets, nt.fn)
		}
	}
	l.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.deliverMu.Lock()
		defer l.deliverMu.Unlock()
		for _, fn := range targets {
			fn(n)
		}
	}()
}

func (l *Loopback) register(d Domain, fn NotifyFunc) (Cookie, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextCookie++
	c := l.nextCookie
	l.notifiers[c] = notifier{domain: d, fn: fn}
	return c, nil
}

func (l *Loopback) unregister(c Cookie) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.notifiers, c)
}

type loopbackClient struct {
	lb     *Loopback
	domain Domain
}

func (c *loopbackClient) Lend(irqs IRQDescriptor, mem SGLDescriptor) (MemHandle, error) {
	return c.lb.lend(c.domain, irqs, mem)
}

func (c *loopbackClient) Reclaim(handle MemHandle) (IRQDescriptor, SGLDescriptor, error) {
	return c.lb.reclaim(c.domain, handle)
}

func (c *loopbackClient) RegisterNotifier(fn NotifyFunc) (Cookie, error) {
	return c.lb.register(c.domain, fn)
}

func (c *loopbackClient) UnregisterNotifier(cookie Cookie) {
	c.lb.unregister(cookie)
}

var _ ResourceManager = (*loopbackClient)(nil)
