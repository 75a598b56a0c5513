package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event records an RTC protocol step for post-mortem analysis
type Event struct {
	Type    uint8
	Counter uint32 // counter value at the event, when meaningful
	Value   uint32 // context-dependent value
}

// Event type codes
const (
	EvtInit        = 1 // Initialize finished
	EvtWriteBegin  = 2 // config mode entered, Value = value being written
	EvtWriteCommit = 3 // config mode left and synchronized
	EvtTimeout     = 4 // bounded poll gave up, Value = field
	EvtTickDrain   = 5 // main loop drained ticks, Value = count
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event ring buffer (non-blocking, for post-mortem)
	eventRing     [EventRingSize]Event
	eventRingHead uint8

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil && debugEnabled {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent captures an event in the ring buffer. Never blocks.
func RecordEvent(eventType uint8, counter, value uint32) {
	idx := eventRingHead
	eventRing[idx] = Event{
		Type:    eventType,
		Counter: counter,
		Value:   value,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the recorded events, oldest first
func Events() []Event {
	out := make([]Event, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.Type == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

func eventName(t uint8) string {
	switch t {
	case EvtInit:
		return "INIT"
	case EvtWriteBegin:
		return "WRITE_BEGIN"
	case EvtWriteCommit:
		return "WRITE_COMMIT"
	case EvtTimeout:
		return "TIMEOUT!"
	case EvtTickDrain:
		return "TICK_DRAIN"
	default:
		return "UNKNOWN"
	}
}

// DumpEvents outputs the event ring (call on shutdown/error). Goes straight
// to the writer, regardless of debugEnabled.
func DumpEvents() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[RTC] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[RTC] " + eventName(evt.Type) +
			" counter=" + utoa(evt.Counter) +
			" value=" + utoa(evt.Value))
	}
	debugPrintln("[RTC] === End Dump ===")
}

// ClearEvents clears the event ring
func ClearEvents() {
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
}
