package core

import "errors"

var (
	ErrTimeout = errors.New("rtc: poll limit exceeded")
	ErrRange   = errors.New("rtc: value out of range")

	ErrNotInitialized = errors.New("rtc: driver not initialized")
	ErrShutdown       = errors.New("rtc: firmware is shut down")
)

// TimeoutError reports a bounded poll that gave up waiting for a field
type TimeoutError struct {
	Field RTCField
	Want  uint32
	Polls uint32
}

func (e *TimeoutError) Error() string {
	return "rtc: timeout waiting for " + e.Field.String() + "=" + utoa(e.Want) +
		" after " + utoa(e.Polls) + " polls"
}

// Is lets errors.Is(err, ErrTimeout) match
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RangeError reports a value that does not fit its destination
type RangeError struct {
	What  string
	Value int64
}

func (e *RangeError) Error() string {
	return "rtc: " + e.What + " out of range: " + itoa64(e.Value)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRange
}
