package vm

import "github.com/trustui/displayvm/internal/pipeline"

// noopOps backs a disabled layer. With no other party to contend with, the
// domain always owns the hardware and every operation succeeds without
// touching the resource manager.
type noopOps struct{}

func (noopOps) Acquire() error                            { return nil }
func (noopOps) Release() error                            { return nil }
func (noopOps) OwnsHardware() bool                        { return true }
func (noopOps) PrepareCommit(*pipeline.CommitState) error { return nil }
func (noopOps) PostCommit(*pipeline.CommitState) error    { return nil }
func (noopOps) Check() error                              { return nil }
func (noopOps) ClientPreRelease() error                   { return nil }
func (noopOps) ClientPostAcquire() error                  { return nil }
func (noopOps) RequestValid(_, _ pipeline.Req) error      { return nil }
func (noopOps) Deinit() error                             { return nil }

var _ Ops = noopOps{}
