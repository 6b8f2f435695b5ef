package timeutils

// SecondsUntil returns how long it is from `now` until `target` next comes round, both given as seconds since midnight.
// A target equal to `now` is zero seconds away.
func SecondsUntil(target, now uint32) uint32 {
	target, now = target%DayInSec, now%DayInSec
	if target >= now {
		return target - now
	}
	return DayInSec - now + target
}

// Elapsed returns the seconds from `from` to `to`, wrapping past midnight. It cannot represent a full day or more.
func Elapsed(from, to uint32) uint32 {
	return SecondsUntil(to, from)
}

// NextOccurrence returns the smallest delay from `now` to any of the `entries`, wrapping to the next day if every entry
// for today has passed. ok is false if there are no entries.
func NextOccurrence(entries []uint32, now uint32) (delay uint32, ok bool) {
	for _, entry := range entries {
		d := SecondsUntil(entry, now)
		if !ok || d < delay {
			delay = d
			ok = true
		}
	}
	return delay, ok
}

// NextOccurrenceAfter is like NextOccurrence but a time equal to `now` counts as tomorrow's occurrence.
func NextOccurrenceAfter(entries []uint32, now uint32) (delay uint32, ok bool) {
	for _, entry := range entries {
		d := SecondsUntil(entry, now)
		if d == 0 {
			d = DayInSec
		}
		if !ok || d < delay {
			delay = d
			ok = true
		}
	}
	return delay, ok
}

// Crossed reports whether `entry` lies in the window (anchor, anchor+elapsed], i.e. the entry came round since the
// last accounted wake at `anchor`.
func Crossed(entry, anchor, elapsed uint32) bool {
	d := SecondsUntil(entry, anchor)
	return d != 0 && d <= elapsed
}
