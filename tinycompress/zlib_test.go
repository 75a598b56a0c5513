package tinycompress

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib.NewReader failed: %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate failed: %v", err)
	}
	return out
}

func TestAppendStoredInflates(t *testing.T) {
	testCases := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"small", 42},
		{"one full block", maxStoredBlock},
		{"two blocks", maxStoredBlock + 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, tc.size)
			for i := range data {
				data[i] = byte(i * 7)
			}

			enc := AppendStored(nil, data)
			if len(enc) != StoredSize(tc.size) {
				t.Errorf("StoredSize(%d) = %d, encoded %d bytes", tc.size, StoredSize(tc.size), len(enc))
			}
			if got := inflate(t, enc); !bytes.Equal(got, data) {
				t.Errorf("Round trip mismatch for %d bytes", tc.size)
			}
		})
	}
}

func TestWriter(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out, 64)

	w.Write([]byte(`{"version":`))
	w.Write([]byte(`"rtclock"}`))
	if out.Len() != 0 {
		t.Error("Writer should not emit before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := string(inflate(t, out.Bytes())); got != `{"version":"rtclock"}` {
		t.Errorf("Unexpected inflated data %q", got)
	}

	if _, err := w.Write([]byte("x")); err != ErrClosed {
		t.Errorf("Write after Close: expected ErrClosed, got %v", err)
	}
}

func TestHeaderCheck(t *testing.T) {
	if (uint16(headerCMF)<<8|headerFLG)%31 != 0 {
		t.Error("zlib header check bits are wrong")
	}
}
