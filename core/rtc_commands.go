package core

import (
	"errors"
	"sync"
	"sync/atomic"

	"rtclock/protocol"
)

// Codes carried by rtc_error
const (
	RTCErrorTimeout        = 1
	RTCErrorRange          = 2
	RTCErrorShutdown       = 3
	RTCErrorNotInitialized = 4
	RTCErrorOther          = 255
)

var (
	tickGate      *TickGate
	tickStreaming uint32 // atomic bool
	rtcInitOnce   sync.Once
)

// SetTickGate registers the gate the RTC interrupt feeds
func SetTickGate(g *TickGate) {
	tickGate = g
}

// InitRTCCommands registers the RTC commands and responses. The target
// registers MCU, RTC_CLOCK_FREQ and RTC_PRESCALER once the driver exists.
// Safe to call more than once.
func InitRTCCommands() {
	rtcInitOnce.Do(registerRTCCommands)
}

func registerRTCCommands() {
	RegisterCommand("rtc_get_counter", "", handleRTCGetCounter)
	RegisterCommand("rtc_set_counter", "counter=%u", handleRTCSetCounter)
	RegisterCommand("rtc_get_datetime", "", handleRTCGetDateTime)
	RegisterCommand("rtc_config_tick", "enable=%c", handleRTCConfigTick)
	RegisterCommand("rtc_get_status", "", handleRTCGetStatus)
	RegisterCommand("rtc_dump_events", "", handleRTCDumpEvents)

	RegisterResponse("rtc_counter", "counter=%u")
	RegisterResponse("rtc_datetime", "year=%hu month=%c day=%c hour=%c minute=%c second=%c weekday=%c")
	RegisterResponse("rtc_tick", "seq=%u counter=%u")
	RegisterResponse("rtc_status", "state=%c ticks=%u dropped=%u")
	RegisterResponse("rtc_error", "code=%c")

	RegisterShutdownHook(stopTicks)
	RegisterResetHook(stopTicks)
}

// RegisterRTCConstants publishes the driver settings in the dictionary
func RegisterRTCConstants(mcu string, r *RTC) {
	RegisterConstant("MCU", mcu)
	RegisterConstant("RTC_CLOCK_FREQ", r.cfg.ClockFreq)
	RegisterConstant("RTC_PRESCALER", r.Prescaler())
}

// readyRTC returns the driver if it may be used for a host command
func readyRTC() (*RTC, error) {
	if rtcDriver == nil || rtcDriver.State() == RTCUninitialized {
		return nil, ErrNotInitialized
	}
	return rtcDriver, nil
}

// errorCode maps a driver error onto its rtc_error code
func errorCode(err error) uint32 {
	switch {
	case errors.Is(err, ErrTimeout):
		return RTCErrorTimeout
	case errors.Is(err, ErrRange):
		return RTCErrorRange
	case errors.Is(err, ErrShutdown):
		return RTCErrorShutdown
	case errors.Is(err, ErrNotInitialized):
		return RTCErrorNotInitialized
	default:
		return RTCErrorOther
	}
}

// reportError tells the host about err and hands it back to the transport
func reportError(err error) error {
	code := errorCode(err)
	SendResponse("rtc_error", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, code)
	})
	return err
}

func sendCounter(counter uint32) {
	SendResponse("rtc_counter", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, counter)
	})
}

func handleRTCGetCounter(data *[]byte) error {
	r, err := readyRTC()
	if err != nil {
		return reportError(err)
	}
	sendCounter(r.ReadCounter())
	return nil
}

func handleRTCSetCounter(data *[]byte) error {
	counter, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return reportError(ErrShutdown)
	}
	r, err := readyRTC()
	if err != nil {
		return reportError(err)
	}
	if err := r.SetCounter(counter); err != nil {
		return reportError(err)
	}
	sendCounter(r.ReadCounter())
	return nil
}

func handleRTCGetDateTime(data *[]byte) error {
	r, err := readyRTC()
	if err != nil {
		return reportError(err)
	}
	dt := FromEpochSeconds(r.ReadCounter())
	SendResponse("rtc_datetime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(dt.Year))
		protocol.EncodeVLQUint(output, uint32(dt.Month))
		protocol.EncodeVLQUint(output, uint32(dt.Day))
		protocol.EncodeVLQUint(output, uint32(dt.Hour))
		protocol.EncodeVLQUint(output, uint32(dt.Minute))
		protocol.EncodeVLQUint(output, uint32(dt.Second))
		protocol.EncodeVLQUint(output, uint32(dt.Weekday))
	})
	return nil
}

func handleRTCConfigTick(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if _, err := readyRTC(); err != nil || tickGate == nil {
		return reportError(ErrNotInitialized)
	}

	if enable == 0 {
		stopTicks()
		return nil
	}
	if IsShutdown() {
		return reportError(ErrShutdown)
	}
	atomic.StoreUint32(&tickStreaming, 1)
	tickGate.Enable()
	DebugPrintln("[RTC] tick streaming on")
	return nil
}

func stopTicks() {
	atomic.StoreUint32(&tickStreaming, 0)
	if tickGate != nil {
		tickGate.Disable()
	}
}

func handleRTCGetStatus(data *[]byte) error {
	state := RTCUninitialized
	if rtcDriver != nil {
		state = rtcDriver.State()
	}
	var fired, dropped uint32
	if tickGate != nil {
		fired = tickGate.Fired()
		dropped = tickGate.Dropped()
	}
	SendResponse("rtc_status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(state))
		protocol.EncodeVLQUint(output, fired)
		protocol.EncodeVLQUint(output, dropped)
	})
	return nil
}

func handleRTCDumpEvents(data *[]byte) error {
	DumpEvents()
	return nil
}

// DrainTicks moves queued tick snapshots to the host. Call it from the main
// loop; snapshots are discarded while streaming is off.
func DrainTicks() int {
	g := tickGate
	if g == nil {
		return 0
	}
	stream := atomic.LoadUint32(&tickStreaming) != 0
	n := g.Drain(func(s TickSnapshot) {
		if !stream {
			return
		}
		SendResponse("rtc_tick", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, s.Seq)
			protocol.EncodeVLQUint(output, s.Counter)
		})
	})
	if n > 0 {
		RecordEvent(EvtTickDrain, 0, uint32(n))
	}
	return n
}

// TickStreaming reports whether drained ticks are sent to the host
func TickStreaming() bool {
	return atomic.LoadUint32(&tickStreaming) != 0
}
