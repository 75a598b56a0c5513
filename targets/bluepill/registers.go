//go:build stm32f103

package main

import (
	"runtime/volatile"
	"unsafe"

	"rtclock/core"
)

// STM32F103 memory map
const (
	rccBase = 0x40021000
	pwrBase = 0x40007000
	rtcBase = 0x40002800

	rccAPB1ENR = rccBase + 0x1C
	rccBDCR    = rccBase + 0x20
	pwrCR      = pwrBase + 0x00

	rtcCRH  = rtcBase + 0x00
	rtcCRL  = rtcBase + 0x04
	rtcPRLH = rtcBase + 0x08
	rtcPRLL = rtcBase + 0x0C
	rtcCNTH = rtcBase + 0x18
	rtcCNTL = rtcBase + 0x1C
)

func reg(addr uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}

type fieldLoc struct {
	reg   *volatile.Register32
	shift uint8
}

// hwRegisters maps RTC fields onto the memory-mapped registers
type hwRegisters struct {
	loc [core.NumRTCFields]fieldLoc
}

func newHWRegisters() *hwRegisters {
	apb1enr := reg(rccAPB1ENR)
	bdcr := reg(rccBDCR)
	crl := reg(rtcCRL)

	h := &hwRegisters{}
	h.loc = [core.NumRTCFields]fieldLoc{
		core.FieldPowerClockEnable:      {apb1enr, 28},
		core.FieldBackupClockEnable:     {apb1enr, 27},
		core.FieldBackupWriteEnable:     {reg(pwrCR), 8},
		core.FieldLSEOn:                 {bdcr, 0},
		core.FieldLSEReady:              {bdcr, 1},
		core.FieldLSEBypass:             {bdcr, 2},
		core.FieldClockSource:           {bdcr, 8},
		core.FieldRTCEnable:             {bdcr, 15},
		core.FieldPrescalerHigh:         {reg(rtcPRLH), 0},
		core.FieldPrescalerLow:          {reg(rtcPRLL), 0},
		core.FieldCounterHigh:           {reg(rtcCNTH), 0},
		core.FieldCounterLow:            {reg(rtcCNTL), 0},
		core.FieldConfigMode:            {crl, 4},
		core.FieldSynchronized:          {crl, 3},
		core.FieldWriteComplete:         {crl, 5},
		core.FieldSecondInterruptEnable: {reg(rtcCRH), 0},
		core.FieldSecondFlag:            {crl, 0},
	}
	return h
}

func (h *hwRegisters) Read(f core.RTCField) uint32 {
	l := h.loc[f]
	return l.reg.Get() >> l.shift & f.Mask()
}

// Write does a read-modify-write. CRL writes go through core.MergeControl so
// the clear-on-zero flags are only cleared when they are the target field.
func (h *hwRegisters) Write(f core.RTCField, v uint32) {
	l := h.loc[f]
	switch f {
	case core.FieldPrescalerHigh, core.FieldPrescalerLow,
		core.FieldCounterHigh, core.FieldCounterLow:
		// Whole-register fields; PRL reads back as 0
		l.reg.Set(v & f.Mask())
		return
	case core.FieldConfigMode, core.FieldSynchronized,
		core.FieldWriteComplete, core.FieldSecondFlag:
		l.reg.Set(core.MergeControl(l.reg.Get(), f, l.shift, v))
		return
	}
	mask := f.Mask() << l.shift
	l.reg.Set(l.reg.Get()&^mask | (v<<l.shift)&mask)
}
