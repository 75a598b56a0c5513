package core

// RTCField names one bit-field of the RTC, RCC or PWR peripherals that the
// RTC driver touches. Values are right-aligned; Width reports the field size.
type RTCField uint8

const (
	FieldPowerClockEnable      RTCField = iota // RCC_APB1ENR.PWREN
	FieldBackupClockEnable                     // RCC_APB1ENR.BKPEN
	FieldBackupWriteEnable                     // PWR_CR.DBP
	FieldLSEOn                                 // RCC_BDCR.LSEON
	FieldLSEReady                              // RCC_BDCR.LSERDY (read-only)
	FieldLSEBypass                             // RCC_BDCR.LSEBYP
	FieldClockSource                           // RCC_BDCR.RTCSEL
	FieldRTCEnable                             // RCC_BDCR.RTCEN
	FieldPrescalerHigh                         // RTC_PRLH.PRL[19:16]
	FieldPrescalerLow                          // RTC_PRLL.PRL[15:0]
	FieldCounterHigh                           // RTC_CNTH
	FieldCounterLow                            // RTC_CNTL
	FieldConfigMode                            // RTC_CRL.CNF
	FieldSynchronized                          // RTC_CRL.RSF
	FieldWriteComplete                         // RTC_CRL.RTOFF (read-only)
	FieldSecondInterruptEnable                 // RTC_CRH.SECIE
	FieldSecondFlag                            // RTC_CRL.SECF

	NumRTCFields
)

// RTCSEL encodings
const (
	ClockSourceNone = 0
	ClockSourceLSE  = 1
	ClockSourceLSI  = 2
	ClockSourceHSE  = 3
)

var rtcFieldWidths = [NumRTCFields]uint8{
	FieldPowerClockEnable:      1,
	FieldBackupClockEnable:     1,
	FieldBackupWriteEnable:     1,
	FieldLSEOn:                 1,
	FieldLSEReady:              1,
	FieldLSEBypass:             1,
	FieldClockSource:           2,
	FieldRTCEnable:             1,
	FieldPrescalerHigh:         4,
	FieldPrescalerLow:          16,
	FieldCounterHigh:           16,
	FieldCounterLow:            16,
	FieldConfigMode:            1,
	FieldSynchronized:          1,
	FieldWriteComplete:         1,
	FieldSecondInterruptEnable: 1,
	FieldSecondFlag:            1,
}

var rtcFieldNames = [NumRTCFields]string{
	FieldPowerClockEnable:      "PWREN",
	FieldBackupClockEnable:     "BKPEN",
	FieldBackupWriteEnable:     "DBP",
	FieldLSEOn:                 "LSEON",
	FieldLSEReady:              "LSERDY",
	FieldLSEBypass:             "LSEBYP",
	FieldClockSource:           "RTCSEL",
	FieldRTCEnable:             "RTCEN",
	FieldPrescalerHigh:         "PRLH",
	FieldPrescalerLow:          "PRLL",
	FieldCounterHigh:           "CNTH",
	FieldCounterLow:            "CNTL",
	FieldConfigMode:            "CNF",
	FieldSynchronized:          "RSF",
	FieldWriteComplete:         "RTOFF",
	FieldSecondInterruptEnable: "SECIE",
	FieldSecondFlag:            "SECF",
}

// Width returns the field width in bits
func (f RTCField) Width() uint8 {
	if f >= NumRTCFields {
		return 0
	}
	return rtcFieldWidths[f]
}

// Mask returns the right-aligned value mask for the field
func (f RTCField) Mask() uint32 {
	return uint32(1)<<f.Width() - 1
}

func (f RTCField) String() string {
	if f >= NumRTCFields {
		return "field(" + itoa(int(f)) + ")"
	}
	return rtcFieldNames[f]
}

// RTCRegisters is the abstract register interface the RTC driver uses.
// Platform code maps fields onto memory-mapped registers; tests use a
// simulated register set.
type RTCRegisters interface {
	// Read returns the current value of a field, right-aligned
	Read(f RTCField) uint32

	// Write stores v into a field with read/modify/write semantics.
	// Other fields of the same register are left untouched. Bits of v
	// outside the field width are ignored.
	Write(f RTCField, v uint32)
}

// ControlClearOnZero covers the RTC_CRL flags that are cleared by writing 0
// and ignore a written 1: SECF, ALRF, OWF and RSF.
const ControlClearOnZero uint32 = 0x0F

// MergeControl returns the value to store into RTC_CRL when writing field f
// (at bit shift) to v, given the current register contents cur. The
// clear-on-zero flags outside f are written as 1 so a flag the hardware
// raises between the read and the write survives.
func MergeControl(cur uint32, f RTCField, shift uint8, v uint32) uint32 {
	mask := f.Mask() << shift
	return cur&^mask | (v<<shift)&mask | ControlClearOnZero&^mask
}

// setField and clearField are shorthand for single-bit fields
func setField(r RTCRegisters, f RTCField) {
	r.Write(f, 1)
}

func clearField(r RTCRegisters, f RTCField) {
	r.Write(f, 0)
}

func fieldSet(r RTCRegisters, f RTCField) bool {
	return r.Read(f) != 0
}

// Global singleton used by the RTC commands.
var rtcDriver *RTC

// SetRTC is called by target-specific code to register the driver that owns
// the peripheral.
func SetRTC(d *RTC) {
	rtcDriver = d
}

// MustRTC returns the registered driver or panics if missing.
func MustRTC() *RTC {
	if rtcDriver == nil {
		panic("RTC driver not configured")
	}
	return rtcDriver
}
