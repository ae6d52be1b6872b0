package resmgr

import "fmt"

// IRQEntry names a single interrupt line involved in a cross-domain transfer.
// Label is the identifier assigned by the resource manager; Line is the
// locally mapped interrupt number.
type IRQEntry struct {
	Label uint32
	Line  uint32
}

// IRQDescriptor lists the interrupt lines lent in one transfer. Once handed
// to the resource manager the descriptor is treated as read-only until the
// transfer is reclaimed.
type IRQDescriptor struct {
	Entries []IRQEntry
}

// Count returns the number of interrupt lines in the descriptor.
func (d IRQDescriptor) Count() int { return len(d.Entries) }

// Validate checks that every label appears at most once.
func (d IRQDescriptor) Validate() error {
	seen := make(map[uint32]struct{}, len(d.Entries))
	for _, e := range d.Entries {
		if _, ok := seen[e.Label]; ok {
			return fmt.Errorf("resmgr: duplicate IRQ label %d", e.Label)
		}
		seen[e.Label] = struct{}{}
	}
	return nil
}

// Equal reports whether two descriptors name the same set of interrupt
// lines. Ordering does not matter; labels and line numbers both do.
func (d IRQDescriptor) Equal(other IRQDescriptor) bool {
	if len(d.Entries) != len(other.Entries) {
		return false
	}
	lines := make(map[uint32]uint32, len(d.Entries))
	for _, e := range d.Entries {
		lines[e.Label] = e.Line
	}
	for _, e := range other.Entries {
		line, ok := lines[e.Label]
		if !ok || line != e.Line {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share backing storage with d.
func (d IRQDescriptor) Clone() IRQDescriptor {
	if len(d.Entries) == 0 {
		return IRQDescriptor{}
	}
	entries := make([]IRQEntry, len(d.Entries))
	copy(entries, d.Entries)
	return IRQDescriptor{Entries: entries}
}

// MemoryRange describes one reserved physical range included in a transfer.
type MemoryRange struct {
	Base uint64
	Size uint64
}

// SGLDescriptor is a scatter-list of the memory ranges moved by a transfer.
type SGLDescriptor struct {
	Ranges []MemoryRange
}

// Count returns the number of ranges in the descriptor.
func (d SGLDescriptor) Count() int { return len(d.Ranges) }

// Validate checks that all ranges are non-empty and do not wrap.
func (d SGLDescriptor) Validate() error {
	for _, r := range d.Ranges {
		if r.Size == 0 {
			return fmt.Errorf("resmgr: empty memory range at 0x%x", r.Base)
		}
		if r.Base+r.Size < r.Base {
			return fmt.Errorf("resmgr: memory range overflow at 0x%x", r.Base)
		}
	}
	return nil
}

// Equal reports whether two scatter-lists cover the same set of ranges,
// order-independent.
func (d SGLDescriptor) Equal(other SGLDescriptor) bool {
	if len(d.Ranges) != len(other.Ranges) {
		return false
	}
	sizes := make(map[MemoryRange]int, len(d.Ranges))
	for _, r := range d.Ranges {
		sizes[r]++
	}
	for _, r := range other.Ranges {
		sizes[r]--
		if sizes[r] < 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share backing storage with d.
func (d SGLDescriptor) Clone() SGLDescriptor {
	if len(d.Ranges) == 0 {
		return SGLDescriptor{}
	}
	ranges := make([]MemoryRange, len(d.Ranges))
	copy(ranges, d.Ranges)
	return SGLDescriptor{Ranges: ranges}
}

// MemHandle is the opaque token identifying one reserved memory-range
// transfer. The zero value means no transfer is outstanding.
type MemHandle uint64

// MemHandleUnset is the sentinel for "no transfer outstanding".
const MemHandleUnset MemHandle = 0

// Valid reports whether the handle refers to a transfer.
func (h MemHandle) Valid() bool { return h != MemHandleUnset }
