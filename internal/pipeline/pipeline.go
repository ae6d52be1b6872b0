// Package pipeline describes the display-pipeline side of the ownership
// protocol: the hardware geometry a domain can lend, the per-display
// ownership request carried by an atomic commit, and the commit state the
// protocol's prepare/post hooks parse.
package pipeline

import "github.com/trustui/displayvm/internal/resmgr"

// Req is the high-level ownership mode requested for one display. It lives
// in the pipeline's transaction state; the protocol core validates it but
// never stores it.
type Req int

const (
	ReqNone Req = iota
	ReqSessionRequested
	ReqSessionActive
	ReqReleaseRequested
)

func (r Req) String() string {
	switch r {
	case ReqNone:
		return "none"
	case ReqSessionRequested:
		return "session-requested"
	case ReqSessionActive:
		return "session-active"
	case ReqReleaseRequested:
		return "release-requested"
	default:
		return "invalid"
	}
}

// Pipeline supplies the hardware geometry involved in an ownership transfer.
// The enclosing commit lock belongs to the pipeline; it is always taken
// before the ownership layer's own lock.
type Pipeline interface {
	Name() string

	// HardwareIRQs returns the interrupt lines backing the display blocks.
	HardwareIRQs() resmgr.IRQDescriptor

	// MemoryRanges returns the reserved register and framebuffer ranges.
	MemoryRanges() resmgr.SGLDescriptor
}

// DisplayState records one display's ownership request across a commit.
type DisplayState struct {
	Display string
	Old     Req
	New     Req
}

// CommitState is the slice of the pending atomic commit the ownership hooks
// care about.
type CommitState struct {
	Displays []DisplayState
}

// HasTransition reports whether any display moves from old to new in this
// commit.
func (s *CommitState) HasTransition(old, new Req) bool {
	if s == nil {
		return false
	}
	for _, d := range s.Displays {
		if d.Old == old && d.New == new {
			return true
		}
	}
	return false
}

// Entering returns the displays whose request becomes r in this commit.
func (s *CommitState) Entering(r Req) []string {
	if s == nil {
		return nil
	}
	var names []string
	for _, d := range s.Displays {
		if d.New == r && d.Old != r {
			names = append(names, d.Display)
		}
	}
	return names
}
