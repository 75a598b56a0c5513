//go:build !tinygo

package core

import (
	"sync"
	"sync/atomic"
)

// On regular Go there is no interrupt controller. Masking interrupts holds
// irqMu, and simulated handlers run through RunInterrupt which takes the same
// lock, so a handler never runs inside a critical section. Only the main
// context may nest critical sections.
type irqState int32

var (
	irqMu    sync.Mutex
	irqDepth int32 // atomic
)

// disableInterrupts opens a critical section and returns the previous depth
func disableInterrupts() irqState {
	prev := atomic.AddInt32(&irqDepth, 1) - 1
	if prev == 0 {
		irqMu.Lock()
	}
	return irqState(prev)
}

// restoreInterrupts ends the critical section opened by disableInterrupts
func restoreInterrupts(state irqState) {
	atomic.StoreInt32(&irqDepth, int32(state))
	if state == 0 {
		irqMu.Unlock()
	}
}

// interruptsDisabled reports whether a critical section is open
func interruptsDisabled() bool {
	return atomic.LoadInt32(&irqDepth) > 0
}

// RunInterrupt runs handler the way the interrupt controller would: it waits
// for any open critical section to end first
func RunInterrupt(handler func()) {
	irqMu.Lock()
	defer irqMu.Unlock()
	handler()
}
