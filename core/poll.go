package core

// poller busy-waits on register fields. A zero limit polls forever, which is
// what the hardware expects when the oscillator is known to start; a non-zero
// limit turns a dead crystal into a TimeoutError.
type poller struct {
	regs  RTCRegisters
	limit uint32
}

// waitFor polls f until it reads want
func (p poller) waitFor(f RTCField, want uint32) error {
	var polls uint32
	for p.regs.Read(f) != want {
		polls++
		if p.limit != 0 && polls >= p.limit {
			RecordEvent(EvtTimeout, 0, uint32(f))
			return &TimeoutError{Field: f, Want: want, Polls: polls}
		}
	}
	return nil
}
