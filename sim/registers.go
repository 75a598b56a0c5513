// Package sim is a software model of the STM32F1 RCC, PWR and RTC fields the
// RTC driver uses, plus an in-process firmware that serves the wire protocol
// on top of it. Host tools and tests run against it without hardware.
package sim

import (
	"sync"

	"rtclock/core"
)

// Config describes the simulated hardware at power-on
type Config struct {
	// LSEStartupPolls is how many LSERDY reads return 0 after LSEON is set
	LSEStartupPolls int

	// LSEDead keeps LSERDY low forever (missing or broken crystal)
	LSEDead bool

	// SyncPolls is how many RSF reads return 0 after RSF is cleared
	SyncPolls int

	// WritePolls is how many RTOFF reads return 0 after leaving
	// configuration mode; the staged write commits when RTOFF rises
	WritePolls int

	// Running starts with the backup domain already configured, as after a
	// reset with the battery connected: LSE on, RTC clocked from LSE,
	// prescaler 32767
	Running bool

	// Counter is the initial counter value
	Counter uint32
}

// Access is one entry of the access log
type Access struct {
	Field core.RTCField
	Write bool
	Value uint32
}

// Registers implements core.RTCRegisters. All methods are safe for
// concurrent use; the interrupt handler runs without the lock held.
type Registers struct {
	mu  sync.Mutex
	cfg Config

	// Reset with the core
	pwren, bkpen, dbp bool
	cnf, rsf, secie   bool
	rsfPending        int

	// Backup domain
	lseon, lsebyp, rtcen bool
	rtcsel               uint32
	lsePending           int
	prl                  uint32
	counter              uint32
	secf                 bool
	irqRaised            bool // handler ran for the current SECF

	// Staged by writes in configuration mode
	staged       [core.NumRTCFields]uint32
	stagedMask   uint32 // bit per field
	rtoffPending int

	handler func()

	violations     int
	ignoredWrites  int
	flagClears     int
	unacknowledged int
	commits        int

	logEnabled bool
	log        []Access
}

// NewRegisters creates a register set in its power-on state
func NewRegisters(cfg Config) *Registers {
	r := &Registers{cfg: cfg}
	r.powerOn()
	return r
}

func (r *Registers) powerOn() {
	r.lseon, r.lsebyp, r.rtcen = false, false, false
	r.rtcsel = core.ClockSourceNone
	r.prl = 0x8000 // hardware reset value
	r.counter = r.cfg.Counter
	r.secf = false
	r.irqRaised = false
	r.lsePending = 0
	if r.cfg.Running {
		r.lseon, r.rtcen = true, true
		r.rtcsel = core.ClockSourceLSE
		r.prl = core.DefaultRTCClockFreq - 1
	}
	r.systemReset()
}

func (r *Registers) systemReset() {
	r.pwren, r.bkpen, r.dbp = false, false, false
	r.cnf, r.secie = false, false
	// RSF is cleared by reset and set at the first resync
	r.rsf = false
	r.rsfPending = r.cfg.SyncPolls
	if r.rtoffPending > 0 {
		r.rtoffPending = 0
		r.commit()
	}
	r.stagedMask = 0
}

// Reset simulates a system reset. The backup domain keeps its state.
func (r *Registers) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemReset()
}

// PowerLoss simulates losing both main and backup power
func (r *Registers) PowerLoss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Running = false
	r.cfg.Counter = 0
	r.rtoffPending = 0
	r.powerOn()
}

// backupField reports whether writes to f need DBP
func backupField(f core.RTCField) bool {
	switch f {
	case core.FieldPowerClockEnable, core.FieldBackupClockEnable, core.FieldBackupWriteEnable:
		return false
	}
	return true
}

// Read implements core.RTCRegisters
func (r *Registers) Read(f core.RTCField) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.read(f)
	if r.logEnabled {
		r.log = append(r.log, Access{Field: f, Value: v})
	}
	return v
}

func (r *Registers) read(f core.RTCField) uint32 {
	switch f {
	case core.FieldPowerClockEnable:
		return b2u(r.pwren)
	case core.FieldBackupClockEnable:
		return b2u(r.bkpen)
	case core.FieldBackupWriteEnable:
		return b2u(r.dbp)
	case core.FieldLSEOn:
		return b2u(r.lseon)
	case core.FieldLSEBypass:
		return b2u(r.lsebyp)
	case core.FieldLSEReady:
		return b2u(r.lseReady(true))
	case core.FieldClockSource:
		return r.rtcsel
	case core.FieldRTCEnable:
		return b2u(r.rtcen)
	case core.FieldPrescalerHigh, core.FieldPrescalerLow:
		// PRL is write-only
		return 0
	case core.FieldCounterHigh:
		return r.counter >> 16
	case core.FieldCounterLow:
		return r.counter & 0xFFFF
	case core.FieldConfigMode:
		return b2u(r.cnf)
	case core.FieldSynchronized:
		if !r.rsf {
			if r.rsfPending > 0 {
				r.rsfPending--
				return 0
			}
			r.rsf = true
		}
		return 1
	case core.FieldWriteComplete:
		if r.rtoffPending > 0 {
			r.rtoffPending--
			if r.rtoffPending == 0 {
				r.commit()
			}
			return 0
		}
		return 1
	case core.FieldSecondInterruptEnable:
		return b2u(r.secie)
	case core.FieldSecondFlag:
		return b2u(r.secf)
	}
	return 0
}

// lseReady reports LSERDY; a polling read counts down the startup time
func (r *Registers) lseReady(poll bool) bool {
	if !r.lseon || r.cfg.LSEDead {
		return false
	}
	if r.lsePending > 0 {
		if poll {
			r.lsePending--
		}
		return false
	}
	return true
}

// Write implements core.RTCRegisters
func (r *Registers) Write(f core.RTCField, v uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v &= f.Mask()
	if r.logEnabled {
		r.log = append(r.log, Access{Field: f, Write: true, Value: v})
	}
	if backupField(f) && !r.dbp {
		r.ignoredWrites++
		return
	}

	switch f {
	case core.FieldPowerClockEnable:
		r.pwren = v != 0
	case core.FieldBackupClockEnable:
		r.bkpen = v != 0
	case core.FieldBackupWriteEnable:
		r.dbp = v != 0
	case core.FieldLSEOn:
		if v != 0 && !r.lseon {
			r.lsePending = r.cfg.LSEStartupPolls
		}
		r.lseon = v != 0
	case core.FieldLSEBypass:
		// Only writable while the oscillator is off
		if r.lseon {
			r.violations++
			return
		}
		r.lsebyp = v != 0
	case core.FieldClockSource:
		// RTCSEL is locked once set until the backup domain is reset
		if r.rtcsel != core.ClockSourceNone && v != r.rtcsel {
			r.ignoredWrites++
			return
		}
		r.rtcsel = v
	case core.FieldRTCEnable:
		r.rtcen = v != 0
	case core.FieldPrescalerHigh, core.FieldPrescalerLow, core.FieldCounterHigh, core.FieldCounterLow:
		if !r.cnf || r.rtoffPending > 0 {
			r.violations++
			return
		}
		r.staged[f] = v
		r.stagedMask |= 1 << f
	case core.FieldConfigMode:
		r.writeConfigMode(v != 0)
	case core.FieldSynchronized:
		// rc_w0
		if v == 0 {
			r.rsf = false
			r.rsfPending = r.cfg.SyncPolls
		}
	case core.FieldSecondInterruptEnable:
		r.secie = v != 0
	case core.FieldSecondFlag:
		// rc_w0
		if v == 0 {
			r.secf = false
			r.irqRaised = false
			r.flagClears++
		}
	case core.FieldLSEReady, core.FieldWriteComplete:
		r.ignoredWrites++
	}
}

func (r *Registers) writeConfigMode(on bool) {
	if on {
		if r.rtoffPending > 0 {
			r.violations++
		}
		r.cnf = true
		return
	}
	if !r.cnf {
		return
	}
	r.cnf = false
	if r.stagedMask == 0 {
		return
	}
	if r.cfg.WritePolls == 0 {
		r.commit()
		return
	}
	r.rtoffPending = r.cfg.WritePolls
}

// commit applies staged writes in one step so readers never see half of a
// counter update
func (r *Registers) commit() {
	if r.stagedMask&(1<<core.FieldCounterLow) != 0 {
		r.counter = r.counter&^0xFFFF | r.staged[core.FieldCounterLow]
	}
	if r.stagedMask&(1<<core.FieldCounterHigh) != 0 {
		r.counter = r.counter&0xFFFF | r.staged[core.FieldCounterHigh]<<16
	}
	if r.stagedMask&(1<<core.FieldPrescalerHigh) != 0 {
		r.prl = r.prl&0xFFFF | r.staged[core.FieldPrescalerHigh]<<16
	}
	if r.stagedMask&(1<<core.FieldPrescalerLow) != 0 {
		r.prl = r.prl&^0xFFFF | r.staged[core.FieldPrescalerLow]
	}
	r.stagedMask = 0
	r.commits++
}

// SetInterruptHandler installs the function Tick calls when the second
// interrupt fires
func (r *Registers) SetInterruptHandler(handler func()) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// Running reports whether the counter is clocked
func (r *Registers) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running()
}

func (r *Registers) running() bool {
	return r.rtcen && r.rtcsel == core.ClockSourceLSE && r.lseReady(false)
}

// Tick advances the counter by one second. When SECIE is set the interrupt
// handler runs before Tick returns. Returns false if the RTC is not clocked.
func (r *Registers) Tick() bool {
	r.mu.Lock()
	if !r.running() {
		r.mu.Unlock()
		return false
	}
	r.counter++
	if r.secf && r.irqRaised {
		// Previous interrupt was never acknowledged
		r.unacknowledged++
	}
	r.secf = true
	handler := r.handler
	fire := r.secie && handler != nil
	r.irqRaised = fire
	r.mu.Unlock()

	if fire {
		handler()
	}
	return true
}

// Counter returns the committed counter value
func (r *Registers) Counter() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// Prescaler returns the committed 20-bit prescaler reload value
func (r *Registers) Prescaler() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prl
}

// ClockSource returns RTCSEL
func (r *Registers) ClockSource() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rtcsel
}

// Violations counts writes the hardware would have dropped because the
// protocol was not followed (outside config mode, or before RTOFF)
func (r *Registers) Violations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.violations
}

// IgnoredWrites counts writes blocked by DBP, locks or read-only fields
func (r *Registers) IgnoredWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignoredWrites
}

// FlagClears counts SECF acknowledgements
func (r *Registers) FlagClears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flagClears
}

// Unacknowledged counts ticks that found SECF still set
func (r *Registers) Unacknowledged() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unacknowledged
}

// Commits counts completed configuration-mode writes
func (r *Registers) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// EnableLog starts or stops recording accesses
func (r *Registers) EnableLog(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logEnabled = on
}

// Log returns a copy of the recorded accesses
func (r *Registers) Log() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Access, len(r.log))
	copy(out, r.log)
	return out
}

// ClearLog drops the recorded accesses
func (r *Registers) ClearLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = r.log[:0]
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
