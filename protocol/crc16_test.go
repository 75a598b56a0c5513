package protocol

import "testing"

func TestCRC16KnownValues(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"empty", []byte{}, 0xFFFF},
		{"check string", []byte("123456789"), 0x6F91},
		{"ack header seq 0x10", []byte{5, MessageDest}, 0x9E81},
		{"ack header seq 0x11", []byte{5, MessageDest | 1}, 0x8F08},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CRC16(tc.data); got != tc.expected {
				t.Errorf("CRC16(%v) = 0x%04X, expected 0x%04X", tc.data, got, tc.expected)
			}
		})
	}
}

func TestCRC16Different(t *testing.T) {
	crc1 := CRC16([]byte{0x01, 0x02, 0x03})
	crc2 := CRC16([]byte{0x01, 0x02, 0x04})

	if crc1 == crc2 {
		t.Errorf("CRC16 collision: both inputs produced %04X", crc1)
	}
}

func TestAppendTrailer(t *testing.T) {
	frame := appendTrailer([]byte{5, MessageDest})
	expected := []byte{5, MessageDest, 0x9E, 0x81, MessageValueSync}

	if len(frame) != len(expected) {
		t.Fatalf("Expected %d bytes, got %d", len(expected), len(frame))
	}
	for i := range expected {
		if frame[i] != expected[i] {
			t.Errorf("Byte %d: expected 0x%02X, got 0x%02X", i, expected[i], frame[i])
		}
	}
}
