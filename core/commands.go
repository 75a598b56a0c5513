package core

import (
	"sync"
	"sync/atomic"

	"rtclock/protocol"
)

// identifyChunkMax keeps an identify_response inside one frame: command id,
// offset and length prefix take at most 7 bytes of the payload
const identifyChunkMax = protocol.MessageLengthMax - protocol.MessageLengthMin - 7

// FirmwareState holds the global firmware state
type FirmwareState struct {
	isShutdown  uint32 // atomic bool
	shutdownMsg atomic.Value
}

var globalState = &FirmwareState{}

var (
	shutdownHooks []func()
	resetHooks    []func()
	coreInitOnce  sync.Once
)

// InitCoreCommands registers the protocol commands. identify_response and
// identify must be ids 0 and 1: the host bootstraps with those ids before it
// has the dictionary. Safe to call more than once.
func InitCoreCommands() {
	coreInitOnce.Do(func() {
		RegisterResponse("identify_response", "offset=%u data=%.*s")      // ID 0
		RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

		RegisterCommand("emergency_stop", "", handleEmergencyStop)
		RegisterCommand("clear_shutdown", "", handleClearShutdown)
		RegisterCommand("reset", "", handleReset)
		RegisterResponse("shutdown", "reason=%s")
	})
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if count > identifyChunkMax {
		count = identifyChunkMax
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleClearShutdown(data *[]byte) error {
	atomic.StoreUint32(&globalState.isShutdown, 0)
	DebugPrintln("[CMD] shutdown cleared")
	return nil
}

// RegisterShutdownHook adds a function run on every shutdown. Hooks run in
// registration order and must not block.
func RegisterShutdownHook(hook func()) {
	shutdownHooks = append(shutdownHooks, hook)
}

// TryShutdown stops all activity and tells the host why. A second shutdown
// while already shut down is ignored.
func TryShutdown(reason string) {
	if !atomic.CompareAndSwapUint32(&globalState.isShutdown, 0, 1) {
		return
	}
	globalState.shutdownMsg.Store(reason)
	DebugPrintln("[CMD] shutdown: " + reason)
	for _, hook := range shutdownHooks {
		hook()
	}
	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQString(output, reason)
	})
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ShutdownReason returns the reason given to the last TryShutdown
func ShutdownReason() string {
	reason, _ := globalState.shutdownMsg.Load().(string)
	return reason
}

// RegisterResetHook adds a function run by ResetFirmwareState
func RegisterResetHook(hook func()) {
	resetHooks = append(resetHooks, hook)
}

// ResetFirmwareState clears the shutdown state and runs the reset hooks.
// Called when the host reconnects.
func ResetFirmwareState() {
	atomic.StoreUint32(&globalState.isShutdown, 0)
	globalState.shutdownMsg.Store("")
	for _, hook := range resetHooks {
		hook()
	}
}

// ResponseSender queues one response frame. *protocol.Transport satisfies it.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// Global transport for sending responses (set by main)
var globalTransport ResponseSender

// SetGlobalTransport sets the transport responses are queued on
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

// SendResponse queues a registered response on the global transport
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		// All responses are registered at init
		panic("response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

// Global reset handler (set by target-specific code)
var globalResetHandler func()

// resetPending is set by the reset command; the main loop performs the
// reset once the ACK has gone out
var resetPending uint32 // atomic bool

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// CheckPendingReset runs the reset handler if a reset was requested. Call
// it from the main loop after pending output is flushed.
func CheckPendingReset() bool {
	if !atomic.CompareAndSwapUint32(&resetPending, 1, 0) {
		return false
	}
	if globalResetHandler != nil {
		globalResetHandler()
	}
	return true
}
