//go:build tinygo

package core

import "runtime/interrupt"

type irqState = interrupt.State

// disableInterrupts disables interrupts and returns the previous state
func disableInterrupts() irqState {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state
func restoreInterrupts(state irqState) {
	interrupt.Restore(state)
}

// RunInterrupt calls handler directly; on hardware the controller already
// defers it until interrupts are restored
func RunInterrupt(handler func()) {
	handler()
}
