package sim

import (
	"errors"
	"io"
	"sync"
	"time"

	"rtclock/core"
	"rtclock/protocol"
)

// DefaultTickQueue is the snapshot queue size the simulated firmware uses
const DefaultTickQueue = 16

// FirmwareConfig configures NewFirmware
type FirmwareConfig struct {
	Registers Config
	RTC       core.RTCConfig

	// TickQueue sizes the interrupt snapshot queue, DefaultTickQueue if zero
	TickQueue int

	// TickInterval advances the counter on a timer. Zero leaves ticking to
	// explicit Tick calls.
	TickInterval time.Duration

	// MCU is reported in the dictionary
	MCU string
}

// Firmware runs the RTC firmware logic in-process. One goroutine owns the
// core state (the firmware main loop); a second reads conn, and the caller's
// goroutine plays the interrupt controller through Tick.
type Firmware struct {
	Regs *Registers
	RTC  *core.RTC
	Gate *core.TickGate

	conn      io.ReadWriteCloser
	transport *protocol.Transport
	output    *protocol.ScratchOutput
	input     *protocol.FifoBuffer
	interval  time.Duration

	rx     chan []byte
	wake   chan struct{}
	resets chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// NewFirmware initializes a simulated RTC and binds the global command
// layer to it. Only one Firmware should run at a time: the command layer is
// global, as on the device. Call Start to begin serving conn.
func NewFirmware(conn io.ReadWriteCloser, cfg FirmwareConfig) (*Firmware, error) {
	if cfg.TickQueue == 0 {
		cfg.TickQueue = DefaultTickQueue
	}
	if cfg.MCU == "" {
		cfg.MCU = "sim-stm32f103"
	}

	regs := NewRegisters(cfg.Registers)
	rtc := core.NewRTC(regs, cfg.RTC)
	if err := rtc.Initialize(); err != nil {
		return nil, err
	}

	f := &Firmware{
		Regs:     regs,
		RTC:      rtc,
		Gate:     core.NewTickGate(rtc, cfg.TickQueue),
		conn:     conn,
		output:   protocol.NewScratchOutput(),
		input:    protocol.NewFifoBuffer(1024),
		interval: cfg.TickInterval,
		rx:       make(chan []byte, 8),
		wake:     make(chan struct{}, 1),
		resets:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	regs.SetInterruptHandler(func() {
		core.RunInterrupt(f.Gate.Handle)
		f.notify()
	})

	core.InitCoreCommands()
	core.InitRTCCommands()
	core.SetRTC(rtc)
	core.SetTickGate(f.Gate)
	core.ResetFirmwareState()
	core.RegisterRTCConstants(cfg.MCU, rtc)
	core.SetResetHandler(f.reset)
	core.GetGlobalDictionary().BuildDictionary()

	f.transport = protocol.NewTransport(f.output, core.DispatchCommand)
	f.transport.SetResetCallback(core.ResetFirmwareState)
	core.SetGlobalTransport(f.transport)

	return f, nil
}

// Start launches the main loop and the reader
func (f *Firmware) Start() {
	f.wg.Add(2)
	go f.readLoop()
	go f.mainLoop()
	if f.interval > 0 {
		f.wg.Add(1)
		go f.tickLoop()
	}
}

// Tick advances the simulated counter by n seconds. The interrupt handler
// runs on the caller's goroutine, as it would preempt the main loop.
func (f *Firmware) Tick(n int) {
	for i := 0; i < n; i++ {
		f.Regs.Tick()
	}
}

// Close stops the firmware and closes conn
func (f *Firmware) Close() error {
	var err error
	f.stopOnce.Do(func() {
		close(f.stop)
		err = f.conn.Close()
		f.wg.Wait()
	})
	return err
}

// Err returns the error that stopped the firmware, if any
func (f *Firmware) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

func (f *Firmware) setErr(err error) {
	f.errMu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.errMu.Unlock()
}

func (f *Firmware) notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// reset is the platform reset handler: a system reset keeps the backup
// domain, then the firmware boots again
func (f *Firmware) reset() {
	select {
	case f.resets <- struct{}{}:
	default:
	}
}

func (f *Firmware) readLoop() {
	defer f.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := f.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case f.rx <- data:
			case <-f.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				f.setErr(err)
			}
			return
		}
	}
}

func (f *Firmware) tickLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.Regs.Tick()
		case <-f.stop:
			return
		}
	}
}

// mainLoop is the firmware main loop: feed input to the transport, drain
// ticks, flush output, run a pending reset
func (f *Firmware) mainLoop() {
	defer f.wg.Done()
	for {
		select {
		case data := <-f.rx:
			f.input.Write(data)
			f.transport.Receive(f.input)
		case <-f.wake:
		case <-f.resets:
			f.reboot()
			continue
		case <-f.stop:
			return
		}

		core.DrainTicks()
		if err := f.flush(); err != nil {
			f.setErr(err)
			return
		}
		core.CheckPendingReset()
	}
}

func (f *Firmware) flush() error {
	out := f.output.Result()
	if len(out) == 0 {
		return nil
	}
	_, err := f.conn.Write(out)
	f.output.Reset()
	return err
}

// reboot runs the boot sequence again after a system reset
func (f *Firmware) reboot() {
	f.Regs.Reset()
	f.transport.Reset()
	if err := f.RTC.Initialize(); err != nil {
		core.DebugPrintln("[SIM] reinitialize failed: " + err.Error())
		f.setErr(err)
	}
}
