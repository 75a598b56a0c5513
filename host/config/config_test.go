package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultDevice, c.Device)
	assert.Equal(t, 115200, c.Baud)
	assert.Equal(t, DefaultAckTimeout, c.AckTimeout)
	assert.Equal(t, DefaultDictChunk, c.DictChunk)
	assert.Equal(t, time.Second, c.Sim.TickInterval)
	require.NoError(t, c.Validate())
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
device: /dev/ttyACM1
baud: 9600
ack_timeout: 500ms
sim:
  counter: 946684800
`))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM1", c.Device)
	assert.Equal(t, 9600, c.Baud)
	assert.Equal(t, 500*time.Millisecond, c.AckTimeout)
	assert.Equal(t, DefaultReadTimeout, c.ReadTimeout)
	assert.Equal(t, uint32(946684800), c.Sim.Counter)

	sc := c.Serial()
	assert.Equal(t, "/dev/ttyACM1", sc.Device)
	assert.Equal(t, 9600, sc.Baud)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "device: [unterminated"},
		{"negative baud", "baud: -1"},
		{"chunk too big", "dict_chunk: 300"},
		{"negative timeout", "ack_timeout: -1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	c, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	path := filepath.Join(dir, "rtc-host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: COM3\n"), 0o644))
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "COM3", c.Device)

	require.NoError(t, os.WriteFile(path, []byte("baud: -5\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, path)
}
