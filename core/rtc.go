// RTC counter driver for the STM32F1 backup-domain real-time clock.
//
// The 32-bit seconds counter lives in two 16-bit registers that are only
// writable while the peripheral is in configuration mode. Every write goes
// through a CommitGuard: enter config mode, write the low then the high half,
// leave config mode and resynchronize. Interrupts stay masked for the whole
// sequence so the tick handler never reads a half-written counter.
package core

const (
	// DefaultRTCClockFreq is the nominal LSE crystal frequency
	DefaultRTCClockFreq = 32768

	// maxPrescaler is the largest value PRLH:PRLL can hold (20 bits)
	maxPrescaler = 1<<20 - 1
)

// RTCState tracks the driver protocol state
type RTCState uint8

const (
	RTCUninitialized RTCState = iota
	RTCRunning
	RTCConfigWriting
)

func (s RTCState) String() string {
	switch s {
	case RTCUninitialized:
		return "uninitialized"
	case RTCRunning:
		return "running"
	case RTCConfigWriting:
		return "config-writing"
	default:
		return "unknown"
	}
}

// RTCConfig holds driver settings. Zero values select defaults.
type RTCConfig struct {
	// ClockFreq is the RTC source frequency in Hz, 32768 if zero
	ClockFreq uint32

	// PollLimit bounds every busy-wait. Zero waits forever.
	PollLimit uint32

	// EnableIRQ unmasks the RTC line in the interrupt controller.
	// Called by EnableTickInterrupt; may be nil.
	EnableIRQ func()
}

// RTC owns the RTC peripheral. Only one instance may exist per peripheral.
type RTC struct {
	regs  RTCRegisters
	poll  poller
	cfg   RTCConfig
	state RTCState
}

// NewRTC creates a driver on top of a register set. The hardware is not
// touched until Initialize.
func NewRTC(regs RTCRegisters, cfg RTCConfig) *RTC {
	if cfg.ClockFreq == 0 {
		cfg.ClockFreq = DefaultRTCClockFreq
	}
	return &RTC{
		regs: regs,
		poll: poller{regs: regs, limit: cfg.PollLimit},
		cfg:  cfg,
	}
}

// State returns the current protocol state
func (r *RTC) State() RTCState {
	return r.state
}

// Prescaler returns the reload value Initialize programs for the configured
// clock frequency
func (r *RTC) Prescaler() uint32 {
	return r.cfg.ClockFreq - 1
}

// Initialize powers up the backup domain and starts the counter at 1 Hz.
// When the RTC clock is already enabled (backup power kept it running across
// a reset) the clock source and prescaler are left alone: reconfiguring a
// running source would stop the counter.
func (r *RTC) Initialize() error {
	// APB clocks and DBP are reset with the core, the backup domain is not
	setField(r.regs, FieldPowerClockEnable)
	setField(r.regs, FieldBackupClockEnable)
	setField(r.regs, FieldBackupWriteEnable)

	if fieldSet(r.regs, FieldRTCEnable) {
		DebugPrintln("[RTC] clock already running, skipping setup")
	} else if err := r.startClock(); err != nil {
		return err
	}

	if err := r.Synchronize(); err != nil {
		return err
	}
	r.state = RTCRunning
	RecordEvent(EvtInit, r.ReadCounter(), r.Prescaler())
	return nil
}

// startClock selects the LSE oscillator and programs the prescaler
func (r *RTC) startClock() error {
	prl := r.cfg.ClockFreq - 1
	if r.cfg.ClockFreq > maxPrescaler+1 {
		return &RangeError{What: "prescaler", Value: int64(r.cfg.ClockFreq) - 1}
	}

	DebugPrintln("[RTC] starting LSE")
	clearField(r.regs, FieldLSEBypass)
	setField(r.regs, FieldLSEOn)
	if err := r.poll.waitFor(FieldLSEReady, 1); err != nil {
		return err
	}
	r.regs.Write(FieldClockSource, ClockSourceLSE)
	setField(r.regs, FieldRTCEnable)

	err := r.Modify(func(w *ConfigWriter) {
		w.SetPrescaler(prl)
	})
	if err != nil {
		return err
	}
	DebugPrintln("[RTC] prescaler=" + utoa(prl))
	return nil
}

// Synchronize waits until the shadow registers are synchronized with the
// APB clock and no write is pending. Call it before the first read after
// reset or wakeup; CommitGuard.Release calls it after every write.
func (r *RTC) Synchronize() error {
	if err := r.poll.waitFor(FieldSynchronized, 1); err != nil {
		return err
	}
	return r.poll.waitFor(FieldWriteComplete, 1)
}

// Wake clears the synchronized flag and waits for the next resync, as
// required after leaving a low-power mode where the APB1 clock stopped
func (r *RTC) Wake() error {
	clearField(r.regs, FieldSynchronized)
	return r.Synchronize()
}

// ReadCounter returns the 32-bit seconds counter. The high half is read on
// both sides of the low half so a carry between the reads is never returned.
func (r *RTC) ReadCounter() uint32 {
	for {
		high1 := r.regs.Read(FieldCounterHigh)
		low := r.regs.Read(FieldCounterLow)
		high2 := r.regs.Read(FieldCounterHigh)
		if high1 == high2 {
			return high1<<16 | low
		}
	}
}

// WriteCounter starts a counter write and returns the guard that commits
// it. Until Release is called the peripheral is in configuration mode and
// interrupts are masked. Always pair with defer:
//
//	g, err := rtc.WriteCounter(v)
//	if err != nil {
//		return err
//	}
//	defer g.Release()
func (r *RTC) WriteCounter(v uint32) (*CommitGuard, error) {
	g, err := r.enterConfig()
	if err != nil {
		return nil, err
	}
	RecordEvent(EvtWriteBegin, 0, v)
	w := ConfigWriter{regs: r.regs}
	w.SetCounter(v)
	return g, nil
}

// SetCounter writes v and commits it before returning
func (r *RTC) SetCounter(v uint32) error {
	return r.Modify(func(w *ConfigWriter) {
		RecordEvent(EvtWriteBegin, 0, v)
		w.SetCounter(v)
	})
}

// Modify runs fn in configuration mode. The guard is released on every exit
// path, including a panic inside fn.
func (r *RTC) Modify(fn func(w *ConfigWriter)) (err error) {
	g, err := r.enterConfig()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := g.Release(); err == nil {
			err = rerr
		}
	}()

	fn(&ConfigWriter{regs: r.regs})
	return nil
}

// enterConfig waits for the previous write to finish, masks interrupts and
// sets CNF
func (r *RTC) enterConfig() (*CommitGuard, error) {
	if err := r.Synchronize(); err != nil {
		return nil, err
	}
	irq := disableInterrupts()
	setField(r.regs, FieldConfigMode)
	prev := r.state
	r.state = RTCConfigWriting
	return &CommitGuard{rtc: r, irq: irq, prev: prev}, nil
}

// EnableTickInterrupt enables the once-per-second interrupt and unmasks the
// RTC line
func (r *RTC) EnableTickInterrupt() {
	setField(r.regs, FieldSecondInterruptEnable)
	if r.cfg.EnableIRQ != nil {
		r.cfg.EnableIRQ()
	}
}

// DisableTickInterrupt stops the once-per-second interrupt
func (r *RTC) DisableTickInterrupt() {
	clearField(r.regs, FieldSecondInterruptEnable)
}

// TickInterruptEnabled reports whether SECIE is set
func (r *RTC) TickInterruptEnabled() bool {
	return fieldSet(r.regs, FieldSecondInterruptEnable)
}

// ClearTickInterruptFlag acknowledges a pending second interrupt. Must be
// called once per handler invocation or the line fires again on return.
func (r *RTC) ClearTickInterruptFlag() {
	clearField(r.regs, FieldSecondFlag)
}

// ConfigWriter exposes the registers that may only be written in
// configuration mode. It is only valid inside Modify.
type ConfigWriter struct {
	regs RTCRegisters
}

// SetCounter writes the counter, low half first
func (w *ConfigWriter) SetCounter(v uint32) {
	w.regs.Write(FieldCounterLow, v&0xFFFF)
	w.regs.Write(FieldCounterHigh, v>>16)
}

// SetPrescaler writes the 20-bit reload value, high bits first
func (w *ConfigWriter) SetPrescaler(prl uint32) {
	w.regs.Write(FieldPrescalerHigh, prl>>16)
	w.regs.Write(FieldPrescalerLow, prl&0xFFFF)
}

// CommitGuard keeps the RTC in configuration mode until released
type CommitGuard struct {
	rtc      *RTC
	irq      irqState
	prev     RTCState
	released bool
	err      error
}

// Release leaves configuration mode and waits for the write to complete.
// Calling Release more than once returns the first result.
func (g *CommitGuard) Release() error {
	if g.released {
		return g.err
	}
	g.released = true

	r := g.rtc
	clearField(r.regs, FieldConfigMode)
	// Interrupts come back only after the commit is visible
	defer restoreInterrupts(g.irq)

	g.err = r.Synchronize()
	if g.err == nil {
		RecordEvent(EvtWriteCommit, r.ReadCounter(), 0)
	}
	if g.prev == RTCUninitialized {
		r.state = RTCUninitialized
	} else {
		r.state = RTCRunning
	}
	return g.err
}
