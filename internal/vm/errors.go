package vm

import "errors"

var (
	// ErrTransferFailed means the resource manager rejected or could not
	// complete a lend or reclaim. The whole acquire/release may be retried
	// by the caller; it is never retried here.
	ErrTransferFailed = errors.New("vm: resource transfer failed")

	// ErrDescriptorMismatch means a reclaimed or received resource set does
	// not match what was expected. This is an integrity fault, not a
	// transient failure; ownership state is frozen at its pre-call value.
	ErrDescriptorMismatch = errors.New("vm: resource descriptor mismatch")

	// ErrInvalidTransition means the requested ownership-state change is not
	// on the variant's allow-list. Rejected before any resource-manager
	// call.
	ErrInvalidTransition = errors.New("vm: invalid ownership transition")

	// ErrClientNotReady means a registered client vetoed the release.
	ErrClientNotReady = errors.New("vm: client not ready for release")

	// ErrNotConfigured means the ownership-transfer feature is disabled.
	ErrNotConfigured = errors.New("vm: ownership transfer not configured")
)
