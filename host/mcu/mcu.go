// Package mcu is the host-side client for the RTC board
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rtclock/core"
	"rtclock/host/serial"
	"rtclock/protocol"
)

// Fixed ids of the bootstrap messages, valid before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
)

const (
	defaultChunkSize       = 40
	defaultResponseTimeout = time.Second
	tickBuffer             = 64
)

var (
	ErrNotConnected = errors.New("not connected to MCU")
	ErrNoDictionary = errors.New("dictionary not loaded")
)

// RTCError is an rtc_error response from the board
type RTCError struct {
	Code uint32
}

func (e *RTCError) Error() string {
	switch e.Code {
	case core.RTCErrorTimeout:
		return "rtc: board timed out waiting for the RTC"
	case core.RTCErrorRange:
		return "rtc: value out of range"
	case core.RTCErrorShutdown:
		return "rtc: board is shut down"
	case core.RTCErrorNotInitialized:
		return "rtc: RTC not initialized"
	default:
		return fmt.Sprintf("rtc: error code %d", e.Code)
	}
}

// Dictionary is the parsed data dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// Tick is one rtc_tick report
type Tick struct {
	Seq      uint32
	Counter  uint32
	Received time.Time
}

// Status is the rtc_status report
type Status struct {
	State   core.RTCState
	Ticks   uint32
	Dropped uint32
}

// MCU is a connection to an RTC board
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser

	dictionary     *Dictionary
	dictionaryData []byte
	commandIDs     map[string]uint16
	responseIDs    map[string]uint16

	chunkSize       uint8
	responseTimeout time.Duration
	out             io.Writer

	// -1 until the dictionary names rtc_tick; read by the transport reader
	tickID int32
	ticks  chan Tick
	missed uint32

	// one request/response exchange at a time
	reqMu sync.Mutex

	connected bool
}

// NewMCU creates a client that is not yet connected
func NewMCU() *MCU {
	return &MCU{
		chunkSize:       defaultChunkSize,
		responseTimeout: defaultResponseTimeout,
		out:             io.Discard,
		tickID:          -1,
		ticks:           make(chan Tick, tickBuffer),
	}
}

// SetOutput routes progress messages to w
func (m *MCU) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	m.out = w
}

// SetChunkSize sets the identify chunk size
func (m *MCU) SetChunkSize(n uint8) {
	if n > 0 {
		m.chunkSize = n
	}
}

// SetResponseTimeout bounds the wait for a reply after the ACK
func (m *MCU) SetResponseTimeout(d time.Duration) {
	if d > 0 {
		m.responseTimeout = d
	}
}

// SetAckTimeout bounds the wait for the ACK of every command
func (m *MCU) SetAckTimeout(d time.Duration) {
	if m.transport != nil {
		m.transport.SetAckTimeout(d)
	}
}

// Connect opens device with the default serial settings
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens a serial port and connects over it
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return fmt.Errorf("failed to flush %s: %w", cfg.Device, err)
	}
	m.ConnectPort(port)
	return nil
}

// ConnectPort connects over an already open stream
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	m.connected = true
}

// Close closes the transport and the port
func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.transport.Close()
}

// IsConnected returns whether the client holds an open transport
func (m *MCU) IsConnected() bool {
	return m.connected
}

// RetrieveDictionary reads the dictionary through identify, inflates it
// and indexes the command ids
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	m.reqMu.Lock()
	raw, err := m.readDictionary()
	m.reqMu.Unlock()
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Dictionary retrieved: %d bytes\n", len(raw))

	data := raw
	if inflated, err := decompress(raw); err == nil {
		fmt.Fprintf(m.out, "Dictionary decompressed: %d -> %d bytes\n", len(raw), len(inflated))
		data = inflated
	} else if !errors.Is(err, errNotZlib) {
		return fmt.Errorf("failed to decompress dictionary: %w", err)
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	m.setDictionary(dict, data)
	return nil
}

func (m *MCU) readDictionary() ([]byte, error) {
	var buf bytes.Buffer
	for {
		offset := uint32(buf.Len())
		chunk, err := m.sendIdentify(offset, m.chunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			return buf.Bytes(), nil
		}
		buf.Write(chunk)
	}
}

// sendIdentify requests count bytes of the dictionary at offset
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify: %w", err)
	}

	payload, err := m.awaitResponse(identifyResponseID)
	if err != nil {
		return nil, err
	}
	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identify offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}
	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identify data: %w", err)
	}
	return data, nil
}

var errNotZlib = errors.New("not zlib compressed")

func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return nil, errNotZlib
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// setDictionary indexes dict by message name
func (m *MCU) setDictionary(dict *Dictionary, data []byte) {
	m.dictionary = dict
	m.dictionaryData = data
	m.commandIDs = indexByName(dict.Commands)
	m.responseIDs = indexByName(dict.Responses)

	if id, ok := m.responseIDs["rtc_tick"]; ok {
		atomic.StoreInt32(&m.tickID, int32(id))
	}
}

// indexByName maps "name arg=%u ..." keys to name -> id
func indexByName(msgs map[string]int) map[string]uint16 {
	out := make(map[string]uint16, len(msgs))
	for sig, id := range msgs {
		name, _, _ := strings.Cut(sig, " ")
		out[name] = uint16(id)
	}
	return out
}

// handleResponse runs on the transport reader. Ticks go to the tick
// channel; everything else is queued for awaitResponse.
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) bool {
	tickID := atomic.LoadInt32(&m.tickID)
	if tickID < 0 || cmdID != uint16(tickID) {
		return false
	}
	seq, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return true
	}
	counter, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return true
	}
	select {
	case m.ticks <- Tick{Seq: seq, Counter: counter, Received: time.Now()}:
	default:
		atomic.AddUint32(&m.missed, 1)
	}
	return true
}

// awaitResponse returns the arguments of the next response with id want.
// An rtc_error in between is returned as *RTCError.
func (m *MCU) awaitResponse(want uint16) ([]byte, error) {
	errID, haveErr := m.responseIDs["rtc_error"]
	deadline := time.Now().Add(m.responseTimeout)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, fmt.Errorf("response timeout after %v", m.responseTimeout)
		}
		msg, err := m.transport.ReceiveResponse(wait)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		switch {
		case uint16(id) == want:
			return payload, nil
		case haveErr && uint16(id) == errID:
			code, _ := protocol.DecodeVLQUint(&payload)
			return nil, &RTCError{Code: code}
		}
	}
}

// request sends command name and waits for the response named reply. An
// empty reply only waits for the ACK.
func (m *MCU) request(name string, args func(output protocol.OutputBuffer), reply string) ([]byte, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	cmdID, ok := m.commandIDs[name]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", name)
	}
	var replyID uint16
	if reply != "" {
		if replyID, ok = m.responseIDs[reply]; !ok {
			return nil, fmt.Errorf("unknown response: %s", reply)
		}
	}

	m.reqMu.Lock()
	defer m.reqMu.Unlock()
	if err := m.transport.SendCommand(cmdID, args); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if reply == "" {
		return nil, nil
	}
	payload, err := m.awaitResponse(replyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return payload, nil
}

func decodeArgs(payload []byte, n int) ([]uint32, error) {
	args := make([]uint32, n)
	for i := range args {
		v, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("short response: %w", err)
		}
		args[i] = v
	}
	return args, nil
}

// ReadCounter returns the board's seconds counter
func (m *MCU) ReadCounter() (uint32, error) {
	payload, err := m.request("rtc_get_counter", nil, "rtc_counter")
	if err != nil {
		return 0, err
	}
	args, err := decodeArgs(payload, 1)
	if err != nil {
		return 0, err
	}
	return args[0], nil
}

// SetCounter writes the counter and returns the value read back
func (m *MCU) SetCounter(counter uint32) (uint32, error) {
	payload, err := m.request("rtc_set_counter", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, counter)
	}, "rtc_counter")
	if err != nil {
		return 0, err
	}
	args, err := decodeArgs(payload, 1)
	if err != nil {
		return 0, err
	}
	return args[0], nil
}

// ReadDateTime returns the calendar time computed on the board
func (m *MCU) ReadDateTime() (core.DateTime, error) {
	payload, err := m.request("rtc_get_datetime", nil, "rtc_datetime")
	if err != nil {
		return core.DateTime{}, err
	}
	args, err := decodeArgs(payload, 7)
	if err != nil {
		return core.DateTime{}, err
	}
	return core.DateTime{
		Year:    uint16(args[0]),
		Month:   uint8(args[1]),
		Day:     uint8(args[2]),
		Hour:    uint8(args[3]),
		Minute:  uint8(args[4]),
		Second:  uint8(args[5]),
		Weekday: core.Weekday(args[6]),
	}, nil
}

// SetTime sets the board clock to t, truncated to the second
func (m *MCU) SetTime(t time.Time) error {
	dt, err := core.FromTime(t)
	if err != nil {
		return err
	}
	secs, err := dt.EpochSeconds()
	if err != nil {
		return err
	}
	_, err = m.SetCounter(secs)
	return err
}

// EnableTicks turns the per-second tick stream on or off
func (m *MCU) EnableTicks(on bool) error {
	var enable uint32
	if on {
		enable = 1
	}
	_, err := m.request("rtc_config_tick", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, enable)
	}, "")
	return err
}

// Ticks delivers rtc_tick reports. Reports arriving while the channel is
// full are counted by MissedTicks and dropped.
func (m *MCU) Ticks() <-chan Tick {
	return m.ticks
}

// MissedTicks returns the number of ticks dropped on the host side
func (m *MCU) MissedTicks() uint32 {
	return atomic.LoadUint32(&m.missed)
}

// Status returns the driver state and tick counters
func (m *MCU) Status() (Status, error) {
	payload, err := m.request("rtc_get_status", nil, "rtc_status")
	if err != nil {
		return Status{}, err
	}
	args, err := decodeArgs(payload, 3)
	if err != nil {
		return Status{}, err
	}
	return Status{State: core.RTCState(args[0]), Ticks: args[1], Dropped: args[2]}, nil
}

// EmergencyStop shuts the board down; counter writes fail until
// ClearShutdown
func (m *MCU) EmergencyStop() error {
	_, err := m.request("emergency_stop", nil, "")
	return err
}

// ClearShutdown leaves the shutdown state
func (m *MCU) ClearShutdown() error {
	_, err := m.request("clear_shutdown", nil, "")
	return err
}

// DumpEvents asks the board to print its event ring on the debug output
func (m *MCU) DumpEvents() error {
	_, err := m.request("rtc_dump_events", nil, "")
	return err
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the dictionary JSON
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary writes a summary of the dictionary to w
func (m *MCU) PrintDictionary(w io.Writer) {
	d := m.dictionary
	if d == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintln(w, "=== MCU Dictionary ===")
	fmt.Fprintf(w, "Version: %s\n", d.Version)
	fmt.Fprintf(w, "Build: %s\n", d.BuildVersions)

	fmt.Fprintln(w, "\nConfig:")
	for _, k := range sortedKeys(d.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, d.Config[k])
	}
	printMessages(w, "Commands", d.Commands)
	printMessages(w, "Responses", d.Responses)

	if len(d.Enumerations) > 0 {
		fmt.Fprintf(w, "\nEnumerations (%d):\n", len(d.Enumerations))
		for _, name := range sortedKeys(d.Enumerations) {
			fmt.Fprintf(w, "  %s: %d values\n", name, len(d.Enumerations[name]))
		}
	}
}

func printMessages(w io.Writer, title string, msgs map[string]int) {
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(msgs))
	sigs := sortedKeys(msgs)
	sort.SliceStable(sigs, func(i, j int) bool { return msgs[sigs[i]] < msgs[sigs[j]] })
	for _, sig := range sigs {
		fmt.Fprintf(w, "  [%d] %s\n", msgs[sig], sig)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
