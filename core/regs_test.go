package core

// MockRegisters is an in-memory RTCRegisters. Ready flags (LSERDY, RSF,
// RTOFF) read 1 unless held low with stuck.
type MockRegisters struct {
	vals   [NumRTCFields]uint32
	stuck  [NumRTCFields]bool
	writes []fieldWrite

	// onRead overrides a read when it returns true
	onRead func(f RTCField) (uint32, bool)
}

type fieldWrite struct {
	field RTCField
	value uint32
}

func NewMockRegisters() *MockRegisters {
	return &MockRegisters{}
}

func (m *MockRegisters) Read(f RTCField) uint32 {
	if m.onRead != nil {
		if v, ok := m.onRead(f); ok {
			return v
		}
	}
	switch f {
	case FieldLSEReady, FieldSynchronized, FieldWriteComplete:
		if m.stuck[f] {
			return 0
		}
		return 1
	}
	return m.vals[f]
}

func (m *MockRegisters) Write(f RTCField, v uint32) {
	v &= f.Mask()
	m.writes = append(m.writes, fieldWrite{f, v})
	m.vals[f] = v
}

// indexOf returns the position of the first write of f=v, or -1
func (m *MockRegisters) indexOf(f RTCField, v uint32) int {
	for i, w := range m.writes {
		if w.field == f && w.value == v {
			return i
		}
	}
	return -1
}

// wrote reports whether f was written at all
func (m *MockRegisters) wrote(f RTCField) bool {
	for _, w := range m.writes {
		if w.field == f {
			return true
		}
	}
	return false
}
