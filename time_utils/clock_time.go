package timeutils

import (
	"fmt"
	"math"
	"time"
)

const (
	DayInSec    = 86400
	HourInSec   = 3600
	MinuteInSec = 60
)

// ClockTime represents a time of day, without a date.
type ClockTime struct {
	Hour   int
	Minute int
	Second int
}

// Seconds returns the number of seconds since midnight.
func (c ClockTime) Seconds() uint32 {
	return uint32(c.Hour*HourInSec + c.Minute*MinuteInSec + c.Second)
}

// String formats the clock time as HH:MM:SS.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// ClockTimeFromSeconds returns the clock time of the given seconds since midnight.
func ClockTimeFromSeconds(seconds uint32) ClockTime {
	seconds = seconds % DayInSec
	return ClockTime{
		Hour:   int(seconds / HourInSec),
		Minute: int(seconds % HourInSec / MinuteInSec),
		Second: int(seconds % MinuteInSec),
	}
}

// ParseHHMM converts a user declared time in HH.MM form (e.g. 6.30 for half past six) into a ClockTime.
func ParseHHMM(hhmm float64) (ClockTime, error) {
	if hhmm < 0 || hhmm >= 24 || math.IsNaN(hhmm) {
		return ClockTime{}, fmt.Errorf("time %.2f is not between 00.00 and 23.59", hhmm)
	}
	hour := int(hhmm)
	// round to the nearest minute, as HH.MM values are not exact in floating point
	minute := int(math.Round((hhmm - float64(hour)) * 100))
	if minute >= 60 {
		return ClockTime{}, fmt.Errorf("time %.2f has more than 59 minutes", hhmm)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// SecondOfDay returns the seconds since midnight of `t` in its own location.
func SecondOfDay(t time.Time) uint32 {
	h, m, s := t.Clock()
	return ClockTime{Hour: h, Minute: m, Second: s}.Seconds()
}
