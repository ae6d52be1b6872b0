package vm

import (
	"fmt"

	"github.com/trustui/displayvm/internal/pipeline"
)

// transition is one (old, new) ownership-request pair.
type transition struct {
	old, new pipeline.Req
}

// Every transition passes through an explicit requested state before
// becoming active, and a release can only be requested from an active
// session. Anything not listed fails closed.
var (
	primaryTransitions = map[transition]struct{}{
		{pipeline.ReqNone, pipeline.ReqSessionRequested}:          {},
		{pipeline.ReqSessionRequested, pipeline.ReqSessionActive}: {},
		{pipeline.ReqSessionActive, pipeline.ReqReleaseRequested}: {},
		{pipeline.ReqReleaseRequested, pipeline.ReqNone}:          {},
	}

	// The trusted domain never initiates a session; it only follows one
	// the primary already requested.
	trustedTransitions = map[transition]struct{}{
		{pipeline.ReqSessionRequested, pipeline.ReqSessionActive}: {},
		{pipeline.ReqSessionActive, pipeline.ReqReleaseRequested}: {},
		{pipeline.ReqReleaseRequested, pipeline.ReqNone}:          {},
	}
)

// requestValid is the shared state-transition guard. Requesting the current
// state again is rejected so two racing callers cannot both believe they
// performed the same handoff.
func requestValid(allow map[transition]struct{}, old, new pipeline.Req) error {
	if old == new {
		return fmt.Errorf("%w: already in state %s", ErrInvalidTransition, old)
	}
	if _, ok := allow[transition{old, new}]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old, new)
	}
	return nil
}
