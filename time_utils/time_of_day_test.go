package timeutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextOccurrence(t *testing.T) {
	type subTest struct {
		name          string
		entries       []uint32
		now           uint32
		expectedDelay uint32
		expectedOK    bool
	}

	subTests := []subTest{
		{"NoEntries", nil, 100, 0, false},
		{"LaterToday", []uint32{21600}, 0, 21600, true},
		{"EqualIsNow", []uint32{21600}, 21600, 0, true},
		{"WrapsPastMidnight", []uint32{21600}, 80000, DayInSec - 80000 + 21600, true},
		{"UnsortedPicksNearest", []uint32{50000, 10000, 30000}, 20000, 10000, true},
		{"AllPassedPicksEarliestTomorrow", []uint32{30000, 10000}, 40000, DayInSec - 40000 + 10000, true},
		{"LastSecondOfDay", []uint32{0}, 86399, 1, true},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			delay, ok := NextOccurrence(subTest.entries, subTest.now)
			assert.Equal(t, subTest.expectedOK, ok)
			assert.Equal(t, subTest.expectedDelay, delay)
		})
	}
}

func TestNextOccurrenceExhaustive(t *testing.T) {
	entries := []uint32{0, 21600, 43200, 64800}
	for now := uint32(0); now < DayInSec; now++ {
		delay, ok := NextOccurrence(entries, now)
		assert.True(t, ok)
		// the delay lands on an entry and no entry is closer
		assert.Contains(t, entries, (now+delay)%DayInSec)
		for _, entry := range entries {
			assert.LessOrEqual(t, delay, SecondsUntil(entry, now))
		}
		if t.Failed() {
			t.Fatalf("failed at now=%d", now)
		}
	}
}

func TestNextOccurrenceAfter(t *testing.T) {
	delay, ok := NextOccurrenceAfter([]uint32{21600}, 21600)
	assert.True(t, ok)
	assert.Equal(t, uint32(DayInSec), delay)

	delay, _ = NextOccurrenceAfter([]uint32{21600, 21601}, 21600)
	assert.Equal(t, uint32(1), delay)
}

func TestCrossed(t *testing.T) {
	assert.True(t, Crossed(21600, 18000, 3600))
	assert.False(t, Crossed(21600, 18000, 3599))
	assert.False(t, Crossed(21600, 21600, 3600), "fired at the anchor already")
	assert.True(t, Crossed(100, 86000, 500), "crossing midnight")
	assert.False(t, Crossed(100, 0, 0))
}
