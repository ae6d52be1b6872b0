package pipeline

import "testing"

func TestCommitStateTransitions(t *testing.T) {
	state := &CommitState{Displays: []DisplayState{
		{Display: "display0", Old: ReqSessionRequested, New: ReqSessionActive},
		{Display: "display1", Old: ReqNone, New: ReqNone},
	}}

	if !state.HasTransition(ReqSessionRequested, ReqSessionActive) {
		t.Fatalf("transition not found")
	}
	if state.HasTransition(ReqSessionActive, ReqReleaseRequested) {
		t.Fatalf("absent transition reported")
	}

	entering := state.Entering(ReqSessionActive)
	if len(entering) != 1 || entering[0] != "display0" {
		t.Fatalf("entering = %v, want [display0]", entering)
	}
	if got := state.Entering(ReqNone); got != nil {
		t.Fatalf("display1 did not change state but was reported: %v", got)
	}
}

func TestCommitStateNilSafe(t *testing.T) {
	var state *CommitState
	if state.HasTransition(ReqNone, ReqSessionActive) {
		t.Fatalf("nil state reported a transition")
	}
	if state.Entering(ReqSessionActive) != nil {
		t.Fatalf("nil state reported displays")
	}
}
