package core

import (
	"errors"
	"testing"
	"time"
)

func TestFromEpochSecondsKnownValues(t *testing.T) {
	testCases := []struct {
		seconds uint32
		want    string
	}{
		{0, "1970-01-01 00:00:00 (Thursday)"},
		{86399, "1970-01-01 23:59:59 (Thursday)"},
		{86400, "1970-01-02 00:00:00 (Friday)"},
		{951782400, "2000-02-29 00:00:00 (Tuesday)"},
		{1000000000, "2001-09-09 01:46:40 (Sunday)"},
		{1700000000, "2023-11-14 22:13:20 (Tuesday)"},
		{4107542399, "2100-02-28 23:59:59 (Sunday)"},
		{4294967295, "2106-02-07 06:28:15 (Sunday)"},
	}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			if got := FromEpochSeconds(tc.seconds).String(); got != tc.want {
				t.Errorf("FromEpochSeconds(%d) = %s, want %s", tc.seconds, got, tc.want)
			}
		})
	}
}

func TestFromEpochSecondsMatchesTime(t *testing.T) {
	// Sample the whole range, including values around year boundaries
	for s := uint64(0); s <= maxEpochSeconds; s += 7919 * 3607 {
		secs := uint32(s)
		dt := FromEpochSeconds(secs)
		ref := time.Unix(int64(secs), 0).UTC()

		if dt.Time() != ref {
			t.Fatalf("FromEpochSeconds(%d) = %s, time package says %s", secs, dt, ref)
		}
		if time.Weekday(dt.Weekday) != ref.Weekday() {
			t.Fatalf("FromEpochSeconds(%d) weekday = %s, want %s", secs, dt.Weekday, ref.Weekday())
		}
	}
}

func TestEpochSecondsRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 59, 3600, 86399, 86400, 31535999, 31536000,
		68169599, 68169600, 951868799, 951868800, 4294967295}
	for s := uint64(0); s <= maxEpochSeconds; s += 104729 * 97 {
		values = append(values, uint32(s))
	}

	for _, v := range values {
		got, err := FromEpochSeconds(v).EpochSeconds()
		if err != nil {
			t.Fatalf("EpochSeconds for %d failed: %v", v, err)
		}
		if got != v {
			t.Errorf("Round trip %d -> %s -> %d", v, FromEpochSeconds(v), got)
		}
	}
}

func TestLeapDayRollover(t *testing.T) {
	testCases := []struct {
		year    uint16
		leap    bool
		lastFeb uint32 // last second of February
	}{
		{2000, true, 951868799},
		{2004, true, 1078099199},
		{2001, false, 983404799},
		{2100, false, 4107542399},
	}

	for _, tc := range testCases {
		t.Run(itoa(int(tc.year)), func(t *testing.T) {
			if IsLeap(tc.year) != tc.leap {
				t.Errorf("IsLeap(%d) = %v", tc.year, !tc.leap)
			}

			last := FromEpochSeconds(tc.lastFeb)
			wantDay := uint8(28)
			if tc.leap {
				wantDay = 29
			}
			if last.Year != tc.year || last.Month != 2 || last.Day != wantDay || last.Second != 59 {
				t.Errorf("Last second of February: got %s", last)
			}

			next := FromEpochSeconds(tc.lastFeb + 1)
			if next.Month != 3 || next.Day != 1 || next.Hour != 0 {
				t.Errorf("Next second should be March 1, got %s", next)
			}
		})
	}
}

func TestYearBoundary(t *testing.T) {
	// 1972 is the first leap year after the epoch; its last day is day 365
	dt := FromEpochSeconds(94694399)
	if dt.Year != 1972 || dt.Month != 12 || dt.Day != 31 {
		t.Errorf("Last second of 1972: got %s", dt)
	}
	dt = FromEpochSeconds(94694400)
	if dt.Year != 1973 || dt.Month != 1 || dt.Day != 1 {
		t.Errorf("First second of 1973: got %s", dt)
	}
}

func TestWeekdayPeriod(t *testing.T) {
	const week = 7 * secondsPerDay
	for s := uint64(0); s+week <= maxEpochSeconds; s += 1234567 {
		a := FromEpochSeconds(uint32(s)).Weekday
		b := FromEpochSeconds(uint32(s + week)).Weekday
		if a != b {
			t.Fatalf("Weekday(%d) = %s but Weekday(%d) = %s", s, a, s+week, b)
		}
	}
}

func TestDateTimeValidate(t *testing.T) {
	valid := DateTime{Year: 2024, Month: 2, Day: 29, Hour: 23, Minute: 59, Second: 59}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid date rejected: %v", err)
	}

	testCases := []struct {
		name string
		dt   DateTime
		what string
	}{
		{"before epoch", DateTime{Year: 1969, Month: 12, Day: 31}, "year"},
		{"month zero", DateTime{Year: 2000, Month: 0, Day: 1}, "month"},
		{"month 13", DateTime{Year: 2000, Month: 13, Day: 1}, "month"},
		{"feb 29 non-leap", DateTime{Year: 2023, Month: 2, Day: 29}, "day"},
		{"day zero", DateTime{Year: 2023, Month: 1, Day: 0}, "day"},
		{"hour 24", DateTime{Year: 2023, Month: 1, Day: 1, Hour: 24}, "hour"},
		{"minute 60", DateTime{Year: 2023, Month: 1, Day: 1, Minute: 60}, "minute"},
		{"second 60", DateTime{Year: 2023, Month: 1, Day: 1, Second: 60}, "second"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.dt.Validate()
			var re *RangeError
			if !errors.As(err, &re) || re.What != tc.what {
				t.Errorf("Expected RangeError on %s, got %v", tc.what, err)
			}
			if _, err := tc.dt.EpochSeconds(); !errors.Is(err, ErrRange) {
				t.Errorf("EpochSeconds should fail with ErrRange, got %v", err)
			}
		})
	}
}

func TestEpochSecondsPastCounterRange(t *testing.T) {
	dt := DateTime{Year: 2106, Month: 2, Day: 7, Hour: 6, Minute: 28, Second: 16}
	_, err := dt.EpochSeconds()
	var re *RangeError
	if !errors.As(err, &re) || re.Value != 1<<32 {
		t.Errorf("Expected RangeError with value 2^32, got %v", err)
	}
}

func TestFromTime(t *testing.T) {
	ref := time.Date(2024, time.July, 4, 12, 30, 15, 999, time.FixedZone("X", 3600))
	dt, err := FromTime(ref)
	if err != nil {
		t.Fatal(err)
	}
	if got := dt.String(); got != "2024-07-04 11:30:15 (Thursday)" {
		t.Errorf("FromTime = %s", got)
	}

	if _, err := FromTime(time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC)); !errors.Is(err, ErrRange) {
		t.Errorf("Time before epoch: expected ErrRange, got %v", err)
	}
	if _, err := FromTime(time.Date(2107, 1, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, ErrRange) {
		t.Errorf("Time after 2106: expected ErrRange, got %v", err)
	}
}

func TestWeekdayString(t *testing.T) {
	if Sunday.String() != "Sunday" || Saturday.String() != "Saturday" {
		t.Error("Weekday names wrong")
	}
	if Weekday(7).String() != "Weekday(7)" {
		t.Errorf("Out of range weekday: %s", Weekday(7).String())
	}
}
