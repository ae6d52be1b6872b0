// Package resmgr defines the hypervisor resource-manager interface the
// ownership protocol is built against, and the descriptors it exchanges.
// The concrete transport that moves interrupt lines and memory ranges
// between domains lives behind ResourceManager; the protocol never talks
// to the hypervisor directly.
package resmgr

import "errors"

var (
	ErrTransferOutstanding = errors.New("resmgr: resources already lent")
	ErrUnknownHandle       = errors.New("resmgr: unknown transfer handle")
)

// Domain identifies one VM execution domain to the resource manager.
type Domain string

const (
	DomainPrimary Domain = "primary"
	DomainTrusted Domain = "trusted"
)

// Cookie is the opaque identity handed out when a domain registers for
// transfer notifications. Zero is never a valid cookie.
type Cookie uint64

// NotificationKind distinguishes the events a domain can be told about.
type NotificationKind int

const (
	// TransferReady means the counterpart domain lent a resource set that
	// is now available for this domain to reclaim.
	TransferReady NotificationKind = iota + 1
	// TransferReclaimed means the counterpart domain took back a resource
	// set this domain had lent or previously held.
	TransferReclaimed
)

// Notification describes one completed lend or reclaim on the other side.
type Notification struct {
	Kind   NotificationKind
	From   Domain
	Handle MemHandle
	IRQs   IRQDescriptor
	Memory SGLDescriptor
}

// NotifyFunc receives transfer notifications. Implementations must not call
// back into the resource manager from the callback.
type NotifyFunc func(Notification)

// ResourceManager is one domain's connection to the hypervisor resource
// manager. Lend and Reclaim complete synchronously or fail with a bounded
// error; neither is retried here.
type ResourceManager interface {
	// Lend transfers the described interrupt lines and memory ranges out of
	// the calling domain. The returned handle identifies the transfer until
	// it is reclaimed.
	Lend(irqs IRQDescriptor, mem SGLDescriptor) (MemHandle, error)

	// Reclaim moves the resource set held under handle into the calling
	// domain and returns exactly what was lent.
	Reclaim(handle MemHandle) (IRQDescriptor, SGLDescriptor, error)

	// RegisterNotifier subscribes to transfers performed by other domains.
	RegisterNotifier(fn NotifyFunc) (Cookie, error)

	// UnregisterNotifier drops a subscription. Unknown cookies are ignored.
	UnregisterNotifier(c Cookie)
}
