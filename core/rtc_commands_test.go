package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"rtclock/protocol"
)

type sentResponse struct {
	id   uint16
	data []byte
}

// responseRecorder stands in for the transport
type responseRecorder struct {
	sent []sentResponse
}

func (r *responseRecorder) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	r.sent = append(r.sent, sentResponse{cmdID, append([]byte(nil), out.Result()...)})
}

// responses returns the decoded arguments of every response named name
func (r *responseRecorder) responses(t *testing.T, name string, nargs int) [][]uint32 {
	t.Helper()
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		t.Fatalf("response %s not registered", name)
	}
	var out [][]uint32
	for _, s := range r.sent {
		if s.id != cmd.ID {
			continue
		}
		data := s.data
		args := make([]uint32, nargs)
		for i := range args {
			v, err := protocol.DecodeVLQUint(&data)
			if err != nil {
				t.Fatalf("decoding %s: %v", name, err)
			}
			args[i] = v
		}
		out = append(out, args)
	}
	return out
}

type rtcCommandFixture struct {
	regs *MockRegisters
	rtc  *RTC
	gate *TickGate
	rec  *responseRecorder
}

func setupRTCCommands(t *testing.T, cfg RTCConfig) *rtcCommandFixture {
	t.Helper()
	InitCoreCommands()
	InitRTCCommands()

	f := &rtcCommandFixture{regs: NewMockRegisters(), rec: &responseRecorder{}}
	f.rtc = NewRTC(f.regs, cfg)
	if err := f.rtc.Initialize(); err != nil {
		t.Fatal(err)
	}
	f.gate = NewTickGate(f.rtc, 8)

	SetRTC(f.rtc)
	SetTickGate(f.gate)
	SetGlobalTransport(f.rec)
	ResetFirmwareState()
	t.Cleanup(func() {
		SetGlobalTransport(nil)
		SetRTC(nil)
		SetTickGate(nil)
	})
	return f
}

func call(t *testing.T, name string, args ...uint32) error {
	t.Helper()
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		t.Fatalf("command %s not registered", name)
	}
	out := protocol.NewScratchOutput()
	for _, a := range args {
		protocol.EncodeVLQUint(out, a)
	}
	data := out.Result()
	return DispatchCommand(cmd.ID, &data)
}

func TestBootstrapCommandIDs(t *testing.T) {
	InitCoreCommands()
	for name, want := range map[string]uint16{"identify_response": 0, "identify": 1} {
		cmd, ok := globalRegistry.GetCommandByName(name)
		if !ok || cmd.ID != want {
			t.Errorf("%s should have id %d", name, want)
		}
	}
}

func TestRTCCounterCommands(t *testing.T) {
	f := setupRTCCommands(t, RTCConfig{})

	if err := call(t, "rtc_set_counter", 0x10001); err != nil {
		t.Fatal(err)
	}
	if err := call(t, "rtc_get_counter"); err != nil {
		t.Fatal(err)
	}

	got := f.rec.responses(t, "rtc_counter", 1)
	if len(got) != 2 || got[0][0] != 0x10001 || got[1][0] != 0x10001 {
		t.Errorf("Unexpected rtc_counter responses: %v", got)
	}
	if f.rtc.ReadCounter() != 0x10001 {
		t.Error("Counter not written")
	}
}

func TestRTCDateTimeCommand(t *testing.T) {
	f := setupRTCCommands(t, RTCConfig{})
	if err := f.rtc.SetCounter(1078099199); err != nil {
		t.Fatal(err)
	}

	if err := call(t, "rtc_get_datetime"); err != nil {
		t.Fatal(err)
	}
	got := f.rec.responses(t, "rtc_datetime", 7)
	want := []uint32{2004, 2, 29, 23, 59, 59, uint32(Sunday)}
	if len(got) != 1 {
		t.Fatalf("Expected one rtc_datetime, got %d", len(got))
	}
	for i := range want {
		if got[0][i] != want[i] {
			t.Errorf("rtc_datetime = %v, want %v", got[0], want)
			break
		}
	}
}

func TestRTCCommandNotInitialized(t *testing.T) {
	f := setupRTCCommands(t, RTCConfig{})
	SetRTC(nil)

	if err := call(t, "rtc_get_counter"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	got := f.rec.responses(t, "rtc_error", 1)
	if len(got) != 1 || got[0][0] != RTCErrorNotInitialized {
		t.Errorf("Expected rtc_error code %d, got %v", RTCErrorNotInitialized, got)
	}
}

func TestRTCSetCounterTimeout(t *testing.T) {
	f := setupRTCCommands(t, RTCConfig{PollLimit: 5})
	f.regs.stuck[FieldWriteComplete] = true

	if err := call(t, "rtc_set_counter", 5); !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	got := f.rec.responses(t, "rtc_error", 1)
	if len(got) != 1 || got[0][0] != RTCErrorTimeout {
		t.Errorf("Expected rtc_error timeout, got %v", got)
	}
}

func TestRTCTickStreaming(t *testing.T) {
	f := setupRTCCommands(t, RTCConfig{})

	if err := call(t, "rtc_config_tick", 1); err != nil {
		t.Fatal(err)
	}
	if !TickStreaming() || !f.rtc.TickInterruptEnabled() {
		t.Fatal("Tick streaming should be on")
	}

	f.regs.vals[FieldCounterLow] = 7
	f.gate.Handle()
	f.regs.vals[FieldCounterLow] = 8
	f.gate.Handle()

	if n := DrainTicks(); n != 2 {
		t.Errorf("Expected 2 drained ticks, got %d", n)
	}
	got := f.rec.responses(t, "rtc_tick", 2)
	if len(got) != 2 || got[0][0] != 1 || got[0][1] != 7 || got[1][0] != 2 || got[1][1] != 8 {
		t.Errorf("Unexpected rtc_tick responses: %v", got)
	}

	if err := call(t, "rtc_get_status"); err != nil {
		t.Fatal(err)
	}
	status := f.rec.responses(t, "rtc_status", 3)
	if len(status) != 1 || status[0][0] != uint32(RTCRunning) || status[0][1] != 2 || status[0][2] != 0 {
		t.Errorf("Unexpected rtc_status: %v", status)
	}

	if err := call(t, "rtc_config_tick", 0); err != nil {
		t.Fatal(err)
	}
	f.gate.Handle()
	DrainTicks()
	if len(f.rec.responses(t, "rtc_tick", 2)) != 2 {
		t.Error("Ticks drained while streaming is off must not be sent")
	}
}

func TestRTCShutdown(t *testing.T) {
	f := setupRTCCommands(t, RTCConfig{})
	if err := call(t, "rtc_config_tick", 1); err != nil {
		t.Fatal(err)
	}

	if err := call(t, "emergency_stop"); err != nil {
		t.Fatal(err)
	}
	if !IsShutdown() || ShutdownReason() != "emergency stop" {
		t.Errorf("Expected shutdown, reason %q", ShutdownReason())
	}
	if f.rtc.TickInterruptEnabled() || TickStreaming() {
		t.Error("Shutdown should stop ticks")
	}

	if err := call(t, "rtc_set_counter", 1); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	if err := call(t, "rtc_config_tick", 1); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}

	if err := call(t, "clear_shutdown"); err != nil {
		t.Fatal(err)
	}
	if err := call(t, "rtc_set_counter", 1); err != nil {
		t.Errorf("Write after clear_shutdown failed: %v", err)
	}
}

func TestIdentifyServesDictionary(t *testing.T) {
	f := setupRTCCommands(t, RTCConfig{})
	RegisterRTCConstants("test-mcu", f.rtc)
	GetGlobalDictionary().BuildDictionary()

	var blob []byte
	for {
		before := len(f.rec.sent)
		if err := call(t, "identify", uint32(len(blob)), 255); err != nil {
			t.Fatal(err)
		}
		if len(f.rec.sent) != before+1 {
			t.Fatal("identify sent no response")
		}
		data := f.rec.sent[before].data
		offset, _ := protocol.DecodeVLQUint(&data)
		chunk, err := protocol.DecodeVLQBytes(&data)
		if err != nil {
			t.Fatal(err)
		}
		if offset != uint32(len(blob)) {
			t.Fatalf("identify_response offset %d, want %d", offset, len(blob))
		}
		if len(chunk) > identifyChunkMax {
			t.Fatalf("Chunk of %d bytes does not fit a frame", len(chunk))
		}
		if len(chunk) == 0 {
			break
		}
		blob = append(blob, chunk...)
	}

	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	var doc dictionaryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}

	if doc.Config["MCU"] != "test-mcu" || doc.Config["RTC_PRESCALER"] != "32767" {
		t.Errorf("Unexpected constants: %v", doc.Config)
	}
	if _, ok := doc.Commands["rtc_set_counter counter=%u"]; !ok {
		t.Errorf("rtc_set_counter missing: %v", doc.Commands)
	}
	if _, ok := doc.Responses["rtc_tick seq=%u counter=%u"]; !ok {
		t.Errorf("rtc_tick missing: %v", doc.Responses)
	}
}

func TestPendingReset(t *testing.T) {
	InitCoreCommands()
	var resets int
	SetResetHandler(func() { resets++ })
	defer SetResetHandler(nil)

	if CheckPendingReset() {
		t.Error("No reset requested yet")
	}
	if err := call(t, "reset"); err != nil {
		t.Fatal(err)
	}
	if !CheckPendingReset() || resets != 1 {
		t.Errorf("Reset should run once, ran %d", resets)
	}
	if CheckPendingReset() {
		t.Error("Reset flag should clear")
	}
}
