package core

import "testing"

func TestTickQueueOrderAndDrops(t *testing.T) {
	q := NewTickQueue(4) // holds 3

	for i := uint32(1); i <= 3; i++ {
		if !q.Push(TickSnapshot{Seq: i, Counter: 100 + i}) {
			t.Fatalf("Push %d failed on a non-full queue", i)
		}
	}
	if q.Push(TickSnapshot{Seq: 4}) {
		t.Error("Push on a full queue should fail")
	}
	if q.Dropped() != 1 {
		t.Errorf("Expected 1 dropped, got %d", q.Dropped())
	}

	for i := uint32(1); i <= 3; i++ {
		s, ok := q.Pop()
		if !ok || s.Seq != i || s.Counter != 100+i {
			t.Errorf("Pop %d: got %+v ok=%v", i, s, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on an empty queue should fail")
	}
}

func TestTickQueueMinimumSize(t *testing.T) {
	q := NewTickQueue(0)
	if !q.Push(TickSnapshot{Seq: 1}) {
		t.Error("Minimum queue should hold one snapshot")
	}
	if q.Push(TickSnapshot{Seq: 2}) {
		t.Error("Minimum queue should hold only one snapshot")
	}
}

// tickRegisters counts SECF clears and flags handler re-entry
type tickRegisters struct {
	*MockRegisters
	clears   int
	inHandle bool
	reentry  bool
}

func (r *tickRegisters) Write(f RTCField, v uint32) {
	if f == FieldSecondFlag && v == 0 {
		r.clears++
	}
	r.MockRegisters.Write(f, v)
}

func TestTickGateHandle(t *testing.T) {
	regs := &tickRegisters{MockRegisters: NewMockRegisters()}
	rtc := NewRTC(regs, RTCConfig{})
	gate := NewTickGate(rtc, 8)

	gate.Enable()
	if regs.vals[FieldSecondInterruptEnable] != 1 {
		t.Fatal("Enable should set SECIE")
	}

	// Simulated hardware: each tick bumps the counter, sets SECF and runs
	// the handler
	tick := func() {
		regs.vals[FieldCounterLow]++
		regs.vals[FieldSecondFlag] = 1
		if regs.inHandle {
			regs.reentry = true
		}
		regs.inHandle = true
		RunInterrupt(gate.Handle)
		regs.inHandle = false
	}

	for i := 0; i < 5; i++ {
		tick()
		if regs.vals[FieldSecondFlag] != 0 {
			t.Fatalf("Tick %d: SECF left pending", i)
		}
	}

	if regs.clears != 5 {
		t.Errorf("Expected exactly one clear per tick (5), got %d", regs.clears)
	}
	if regs.reentry {
		t.Error("Handler re-entered")
	}
	if gate.Fired() != 5 {
		t.Errorf("Expected 5 fired, got %d", gate.Fired())
	}

	var counters []uint32
	n := gate.Drain(func(s TickSnapshot) { counters = append(counters, s.Counter) })
	if n != 5 || counters[0] != 1 || counters[4] != 5 {
		t.Errorf("Drain returned %d snapshots: %v", n, counters)
	}

	gate.Disable()
	if regs.vals[FieldSecondInterruptEnable] != 0 {
		t.Error("Disable should clear SECIE")
	}
}

func TestTickGateDropsWhenBehind(t *testing.T) {
	rtc := NewRTC(NewMockRegisters(), RTCConfig{})
	gate := NewTickGate(rtc, 3)

	for i := 0; i < 5; i++ {
		gate.Handle()
	}
	if gate.Dropped() != 3 {
		t.Errorf("Expected 3 dropped, got %d", gate.Dropped())
	}
	if gate.Fired() != 5 {
		t.Errorf("Dropped ticks still count as fired, got %d", gate.Fired())
	}

	var seqs []uint32
	gate.Drain(func(s TickSnapshot) { seqs = append(seqs, s.Seq) })
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("Oldest snapshots should survive, got %v", seqs)
	}
}
