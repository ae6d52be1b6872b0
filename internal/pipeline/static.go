package pipeline

import "github.com/trustui/displayvm/internal/resmgr"

// Static is a fixed-geometry Pipeline, typically built from configuration.
type Static struct {
	DisplayName string
	IRQs        resmgr.IRQDescriptor
	Memory      resmgr.SGLDescriptor
}

func (s *Static) Name() string { return s.DisplayName }

func (s *Static) HardwareIRQs() resmgr.IRQDescriptor { return s.IRQs.Clone() }

func (s *Static) MemoryRanges() resmgr.SGLDescriptor { return s.Memory.Clone() }

var _ Pipeline = (*Static)(nil)
