//go:build stm32f103

package main

import (
	"device/arm"
	"device/stm32"
	"machine"
	"runtime/interrupt"
	"time"

	"tinygo.org/x/drivers/pcf8523"

	"rtclock/core"
	"rtclock/protocol"
)

const (
	// About two seconds of LSE startup at 72 MHz before giving up
	lsePollLimit = 1 << 22

	tickQueueSize = 16
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	uart = machine.Serial

	// Read by the RTC interrupt
	tickGate *core.TickGate

	msgerrors uint32
)

func main() {
	uart.Configure(machine.UARTConfig{BaudRate: 115200})
	core.SetDebugWriter(func(s string) {
		uart.Write([]byte(s + "\r\n"))
	})

	core.InitCoreCommands()
	core.InitRTCCommands()

	irq := interrupt.New(stm32.IRQ_RTC, handleRTCInterrupt)

	rtc := core.NewRTC(newHWRegisters(), core.RTCConfig{
		PollLimit: lsePollLimit,
		EnableIRQ: irq.Enable,
	})
	tickGate = core.NewTickGate(rtc, tickQueueSize)

	if err := rtc.Initialize(); err != nil {
		core.DebugPrintln("[RTC] init failed: " + err.Error())
		core.DumpEvents()
		core.TryShutdown("rtc init failed")
	} else {
		seedFromExternalClock(rtc)
	}

	core.SetRTC(rtc)
	core.SetTickGate(tickGate)
	core.RegisterRTCConstants("stm32f103", rtc)
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()
	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	transport.SetFlushCallback(writeUART)
	core.SetGlobalTransport(transport)

	core.SetResetHandler(func() {
		// Backup domain survives; a restart re-runs Initialize, which sees
		// RTCEN and keeps the counter
		arm.SystemReset()
	})

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			readUART()
			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				in := protocol.NewSliceInputBuffer(data)
				transport.Receive(in)
				inputBuffer.Pop(len(data) - in.Available())
			}

			core.DrainTicks()
			writeUART()
			core.CheckPendingReset()
		}()

		time.Sleep(100 * time.Microsecond)
	}
}

func handleRTCInterrupt(interrupt.Interrupt) {
	tickGate.Handle()
}

func readUART() {
	for uart.Buffered() > 0 {
		b, err := uart.ReadByte()
		if err != nil {
			msgerrors++
			return
		}
		if inputBuffer.Write([]byte{b}) == 0 {
			msgerrors++
			return
		}
	}
}

func writeUART() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}
	if _, err := uart.Write(result); err != nil {
		msgerrors++
	}
	outputBuffer.Reset()
}

// seedFromExternalClock sets a never-written counter from a PCF8523 on I2C
func seedFromExternalClock(rtc *core.RTC) {
	if rtc.ReadCounter() >= core.UnsetCounterLimit {
		return
	}
	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{Frequency: 100 * machine.KHz}); err != nil {
		return
	}
	ext := pcf8523.New(i2c)
	if _, err := core.SeedFromReference(rtc, &ext); err != nil {
		core.DebugPrintln("[RTC] seeding failed: " + err.Error())
	}
}
