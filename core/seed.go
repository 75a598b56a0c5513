package core

import "time"

// ReferenceClock is an external battery-backed clock, such as an I2C RTC
// chip, used to set a counter that was never written
type ReferenceClock interface {
	LostPower() (bool, error)
	Now() (time.Time, error)
}

// UnsetCounterLimit is the counter value below which the RTC is treated as
// never set
const UnsetCounterLimit = 100

// SeedFromReference copies ref into the counter when the counter is below
// UnsetCounterLimit and ref kept its time. It returns true if the counter
// was written. A counter kept by the backup domain is never overwritten.
func SeedFromReference(r *RTC, ref ReferenceClock) (bool, error) {
	if r.ReadCounter() >= UnsetCounterLimit {
		return false, nil
	}
	lost, err := ref.LostPower()
	if err != nil {
		return false, err
	}
	if lost {
		DebugPrintln("[RTC] reference clock lost power, not seeding")
		return false, nil
	}
	now, err := ref.Now()
	if err != nil {
		return false, err
	}
	dt, err := FromTime(now)
	if err != nil {
		return false, err
	}
	secs, err := dt.EpochSeconds()
	if err != nil {
		return false, err
	}
	if err := r.SetCounter(secs); err != nil {
		return false, err
	}
	DebugPrintln("[RTC] seeded from reference clock: " + dt.String())
	return true, nil
}
