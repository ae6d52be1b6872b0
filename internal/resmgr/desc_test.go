package resmgr

import "testing"

func TestIRQDescriptorEqualOrderIndependent(t *testing.T) {
	a := IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}, {Label: 2, Line: 34}}}
	b := IRQDescriptor{Entries: []IRQEntry{{Label: 2, Line: 34}, {Label: 1, Line: 33}}}
	if !a.Equal(b) {
		t.Fatalf("descriptors with same entries in different order not equal")
	}
}

func TestIRQDescriptorEqualDetectsDifferences(t *testing.T) {
	base := IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}, {Label: 2, Line: 34}}}
	cases := []struct {
		name  string
		other IRQDescriptor
	}{
		{"extra entry", IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}, {Label: 2, Line: 34}, {Label: 3, Line: 35}}}},
		{"missing entry", IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}}}},
		{"relabelled line", IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}, {Label: 2, Line: 35}}}},
		{"swapped label", IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}, {Label: 5, Line: 34}}}},
	}
	for _, tc := range cases {
		if base.Equal(tc.other) {
			t.Errorf("%s: descriptors compare equal", tc.name)
		}
	}
}

func TestIRQDescriptorValidate(t *testing.T) {
	if err := (IRQDescriptor{}).Validate(); err != nil {
		t.Fatalf("empty descriptor must be valid: %v", err)
	}
	dup := IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}, {Label: 1, Line: 34}}}
	if err := dup.Validate(); err == nil {
		t.Fatalf("duplicate label accepted")
	}
}

func TestSGLDescriptorEqual(t *testing.T) {
	a := SGLDescriptor{Ranges: []MemoryRange{{Base: 0x1000, Size: 0x100}, {Base: 0x5000, Size: 0x200}}}
	b := SGLDescriptor{Ranges: []MemoryRange{{Base: 0x5000, Size: 0x200}, {Base: 0x1000, Size: 0x100}}}
	if !a.Equal(b) {
		t.Fatalf("scatter-lists with same ranges in different order not equal")
	}
	c := SGLDescriptor{Ranges: []MemoryRange{{Base: 0x1000, Size: 0x100}, {Base: 0x5000, Size: 0x300}}}
	if a.Equal(c) {
		t.Fatalf("scatter-lists with different sizes compare equal")
	}
}

func TestSGLDescriptorValidate(t *testing.T) {
	if err := (SGLDescriptor{Ranges: []MemoryRange{{Base: 0x1000, Size: 0}}}).Validate(); err == nil {
		t.Fatalf("empty range accepted")
	}
	if err := (SGLDescriptor{Ranges: []MemoryRange{{Base: ^uint64(0), Size: 2}}}).Validate(); err == nil {
		t.Fatalf("wrapping range accepted")
	}
}

func TestCloneDoesNotShareStorage(t *testing.T) {
	a := IRQDescriptor{Entries: []IRQEntry{{Label: 1, Line: 33}}}
	b := a.Clone()
	b.Entries[0].Line = 99
	if a.Entries[0].Line != 33 {
		t.Fatalf("clone shares backing storage")
	}
}

func TestMemHandleSentinel(t *testing.T) {
	if MemHandleUnset.Valid() {
		t.Fatalf("sentinel handle reports valid")
	}
	if !MemHandle(7).Valid() {
		t.Fatalf("non-sentinel handle reports invalid")
	}
}
