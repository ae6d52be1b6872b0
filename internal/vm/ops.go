package vm

import "github.com/trustui/displayvm/internal/pipeline"

// Ops is the per-variant capability set bound to a context at init. Every
// method except RequestValid expects the layer lock to be held by the
// caller for the full read-validate-update sequence; none of them take it.
type Ops interface {
	// Acquire requests exclusive hardware ownership for this domain. It is
	// idempotent against a domain that already owns the hardware. On
	// failure ownership state is exactly what it was before the call.
	Acquire() error

	// Release relinquishes ownership, lending the configured interrupt
	// lines and memory ranges to the other domain. Registered clients are
	// consulted first; a veto aborts the release before the resource
	// manager is contacted.
	Release() error

	// OwnsHardware reports whether this domain currently owns the
	// hardware. Pure query, no side effects.
	OwnsHardware() bool

	// PrepareCommit runs after ownership is confirmed and before hardware
	// programming begins for a commit that straddles an ownership change.
	PrepareCommit(state *pipeline.CommitState) error

	// PostCommit runs after hardware programming completes for such a
	// commit.
	PostCommit(state *pipeline.CommitState) error

	// Check asks registered clients whether they are safe to lose hardware
	// access now.
	Check() error

	// ClientPreRelease fans out across registered clients immediately
	// before releasing, letting them save hardware-dependent state.
	ClientPreRelease() error

	// ClientPostAcquire fans out across registered clients immediately
	// after acquiring, letting them restore hardware-dependent state.
	ClientPostAcquire() error

	// RequestValid reports whether the ownership request may move from old
	// to new for this variant. Pure function.
	RequestValid(old, new pipeline.Req) error

	// Deinit tears down the variant. A domain holding lent-out resources
	// reclaims them first; notification registrations are then dropped.
	Deinit() error
}
