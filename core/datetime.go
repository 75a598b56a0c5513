package core

import "time"

const (
	secondsPerDay = 86400
	epochYear     = 1970

	// maxEpochSeconds is the last instant the counter can hold,
	// 2106-02-07 06:28:15 UTC
	maxEpochSeconds = 1<<32 - 1
)

// Weekday follows time.Weekday numbering (Sunday = 0)
type Weekday uint8

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [7]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

func (d Weekday) String() string {
	if d > Saturday {
		return "Weekday(" + itoa(int(d)) + ")"
	}
	return weekdayNames[d]
}

var daysInMonth = [12]uint8{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// DateTime is the calendar view of a counter value, in UTC
type DateTime struct {
	Year    uint16
	Month   uint8 // 1-12
	Day     uint8 // 1-31
	Hour    uint8
	Minute  uint8
	Second  uint8
	Weekday Weekday
}

// IsLeap reports whether year is a Gregorian leap year
func IsLeap(year uint16) bool {
	if year%4 != 0 {
		return false
	}
	if year%100 != 0 {
		return true
	}
	return year%400 == 0
}

func yearLength(year uint16) uint32 {
	if IsLeap(year) {
		return 366
	}
	return 365
}

func monthLength(year uint16, month uint8) uint8 {
	if month == 2 && IsLeap(year) {
		return 29
	}
	return daysInMonth[month-1]
}

// FromEpochSeconds converts a counter value to calendar form. Every uint32
// lands between 1970 and 2106, so the conversion cannot fail.
func FromEpochSeconds(seconds uint32) DateTime {
	days := seconds / secondsPerDay
	tod := seconds % secondsPerDay

	// 1970-01-01 was a Thursday
	weekday := Weekday((days + 4) % 7)

	year := uint16(epochYear)
	for days >= yearLength(year) {
		days -= yearLength(year)
		year++
	}

	month := uint8(1)
	for days >= uint32(monthLength(year, month)) {
		days -= uint32(monthLength(year, month))
		month++
	}

	return DateTime{
		Year:    year,
		Month:   month,
		Day:     uint8(days + 1),
		Hour:    uint8(tod / 3600),
		Minute:  uint8(tod / 60 % 60),
		Second:  uint8(tod % 60),
		Weekday: weekday,
	}
}

// Validate checks every field for its calendar range. Weekday is not
// checked; it is derived.
func (dt DateTime) Validate() error {
	switch {
	case dt.Year < epochYear:
		return &RangeError{What: "year", Value: int64(dt.Year)}
	case dt.Month < 1 || dt.Month > 12:
		return &RangeError{What: "month", Value: int64(dt.Month)}
	case dt.Day < 1 || dt.Day > monthLength(dt.Year, dt.Month):
		return &RangeError{What: "day", Value: int64(dt.Day)}
	case dt.Hour > 23:
		return &RangeError{What: "hour", Value: int64(dt.Hour)}
	case dt.Minute > 59:
		return &RangeError{What: "minute", Value: int64(dt.Minute)}
	case dt.Second > 59:
		return &RangeError{What: "second", Value: int64(dt.Second)}
	}
	return nil
}

// EpochSeconds is the inverse of FromEpochSeconds
func (dt DateTime) EpochSeconds() (uint32, error) {
	if err := dt.Validate(); err != nil {
		return 0, err
	}

	var days uint64
	for y := uint16(epochYear); y < dt.Year; y++ {
		days += uint64(yearLength(y))
	}
	for m := uint8(1); m < dt.Month; m++ {
		days += uint64(monthLength(dt.Year, m))
	}
	days += uint64(dt.Day - 1)

	secs := days*secondsPerDay + uint64(dt.Hour)*3600 + uint64(dt.Minute)*60 + uint64(dt.Second)
	if secs > maxEpochSeconds {
		return 0, &RangeError{What: "epoch seconds", Value: int64(secs)}
	}
	return uint32(secs), nil
}

// Time returns the instant as a UTC time.Time
func (dt DateTime) Time() time.Time {
	return time.Date(int(dt.Year), time.Month(dt.Month), int(dt.Day),
		int(dt.Hour), int(dt.Minute), int(dt.Second), 0, time.UTC)
}

// FromTime converts t to the counter's calendar form. Sub-second precision
// is truncated; instants outside the counter range are a RangeError.
func FromTime(t time.Time) (DateTime, error) {
	secs := t.Unix()
	if secs < 0 || secs > maxEpochSeconds {
		return DateTime{}, &RangeError{What: "epoch seconds", Value: secs}
	}
	return FromEpochSeconds(uint32(secs)), nil
}

// String formats as "YYYY-MM-DD HH:MM:SS (Weekday)"
func (dt DateTime) String() string {
	buf := make([]byte, 0, 32)
	buf = appendPadded(buf, uint32(dt.Year), 4)
	buf = append(buf, '-')
	buf = appendPadded(buf, uint32(dt.Month), 2)
	buf = append(buf, '-')
	buf = appendPadded(buf, uint32(dt.Day), 2)
	buf = append(buf, ' ')
	buf = appendPadded(buf, uint32(dt.Hour), 2)
	buf = append(buf, ':')
	buf = appendPadded(buf, uint32(dt.Minute), 2)
	buf = append(buf, ':')
	buf = appendPadded(buf, uint32(dt.Second), 2)
	buf = append(buf, " ("...)
	buf = append(buf, dt.Weekday.String()...)
	buf = append(buf, ')')
	return string(buf)
}
