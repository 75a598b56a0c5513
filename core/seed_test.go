package core

import (
	"errors"
	"testing"
	"time"
)

type fakeReference struct {
	now  time.Time
	lost bool
	err  error
}

func (f *fakeReference) LostPower() (bool, error) { return f.lost, f.err }
func (f *fakeReference) Now() (time.Time, error)  { return f.now, f.err }

func TestSeedFromReference(t *testing.T) {
	when := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		counter uint32
		ref     *fakeReference
		seeded  bool
		wantErr bool
		want    uint32
	}{
		{"never set", 0, &fakeReference{now: when}, true, false, uint32(when.Unix())},
		{"just below limit", UnsetCounterLimit - 1, &fakeReference{now: when}, true, false, uint32(when.Unix())},
		{"already set", UnsetCounterLimit, &fakeReference{now: when}, false, false, UnsetCounterLimit},
		{"reference lost power", 5, &fakeReference{now: when, lost: true}, false, false, 5},
		{"bus error", 5, &fakeReference{err: errors.New("nack")}, false, true, 5},
		{"before epoch", 5, &fakeReference{now: time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)}, false, true, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regs := NewMockRegisters()
			rtc := NewRTC(regs, RTCConfig{})
			if err := rtc.Initialize(); err != nil {
				t.Fatal(err)
			}
			if err := rtc.SetCounter(tt.counter); err != nil {
				t.Fatal(err)
			}

			seeded, err := SeedFromReference(rtc, tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if seeded != tt.seeded {
				t.Errorf("seeded = %v, want %v", seeded, tt.seeded)
			}
			if got := rtc.ReadCounter(); got != tt.want {
				t.Errorf("counter = %d, want %d", got, tt.want)
			}
		})
	}
}
