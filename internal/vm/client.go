package vm

import (
	"errors"
	"fmt"
	"sync"
)

// Client is a party with hardware-dependent state that must survive an
// ownership handoff. Callbacks must not call back into the ownership layer.
type Client interface {
	// Ready reports whether the client can lose hardware access now. A
	// non-nil error vetoes the release.
	Ready() error

	// PreRelease saves state before the domain loses the hardware.
	PreRelease() error

	// PostAcquire restores state after the domain gains the hardware.
	PostAcquire() error
}

// clientList is the registered-client registry for one context. Fan-out
// runs in registration order.
type clientList struct {
	mu      sync.Mutex
	nextID  int
	entries []clientEntry
}

type clientEntry struct {
	id     int
	client Client
}

func (l *clientList) register(c Client) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.entries = append(l.entries, clientEntry{id: l.nextID, client: c})
	return l.nextID
}

func (l *clientList) unregister(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *clientList) snapshot() []Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Client, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.client
	}
	return out
}

// ready returns the first veto, or nil if every client is ready.
func (l *clientList) ready() error {
	for _, c := range l.snapshot() {
		if err := c.Ready(); err != nil {
			return fmt.Errorf("%w: %w", ErrClientNotReady, err)
		}
	}
	return nil
}

// preRelease stops at the first failure; a client that cannot save its
// state blocks the release.
func (l *clientList) preRelease() error {
	for _, c := range l.snapshot() {
		if err := c.PreRelease(); err != nil {
			return fmt.Errorf("vm: client pre-release: %w", err)
		}
	}
	return nil
}

// postAcquire runs every client even when one fails; the hardware is
// already owned and the remaining clients still need their restore.
func (l *clientList) postAcquire() error {
	var errs []error
	for _, c := range l.snapshot() {
		if err := c.PostAcquire(); err != nil {
			errs = append(errs, fmt.Errorf("vm: client post-acquire: %w", err))
		}
	}
	return errors.Join(errs...)
}
