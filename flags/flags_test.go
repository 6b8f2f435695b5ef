package flags

import (
	"testing"

	"github.com/thinkpilot/nodeflow/records"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	const (
		sense = records.DueSense
		send  = records.DueSend
		clock = records.DueClock
		kick  = records.DueKick
	)

	type subTest struct {
		name     string
		due      uint16
		pin      bool
		expected Flag
	}

	subTests := []subTest{
		{"SenseOnly", sense, false, Sensing},
		{"SendOnly", send, false, Sending},
		{"SenseSend", sense | send, false, SenseSend},
		{"ClockOnly", clock, false, ClockSynch},
		{"SenseClock", sense | clock, false, SenseSynch},
		{"SendClock", send | clock, false, SendSynch},
		{"All", sense | send | clock, false, SenseSendSynch},
		{"KickOnly", kick, false, WDG},
		{"KickDroppedWhenCombined", kick | sense | send, false, SenseSend},
		{"Pin", 0, true, WakeupPin},
		{"PinWinsOverTimer", sense, true, WakeupPin},
		{"NothingIsUnknown", 0, false, Unknown},
		{"UnknownBit", 1 << 7, false, Unknown},
		{"UnknownBitWithSense", sense | 1<<4, false, Unknown},
	}
	for _, subTest := range subTests {
		t.Run(subTest.name, func(t *testing.T) {
			assert.Equal(t, subTest.expected, Resolve(subTest.due, subTest.pin))
		})
	}
}

func TestResolveIsTotal(t *testing.T) {
	// every possible value resolves to exactly one defined flag and never panics
	for due := 0; due <= 0xFFFF; due++ {
		for _, pin := range []bool{false, true} {
			f := Resolve(uint16(due), pin)
			assert.True(t, f >= WDG && f <= Unknown)
		}
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, SenseSendSynch.Senses())
	assert.True(t, SenseSendSynch.Sends())
	assert.True(t, SenseSendSynch.Syncs())
	assert.False(t, WDG.Senses() || WDG.Sends() || WDG.Syncs())
	assert.False(t, Unknown.Senses() || Unknown.Sends() || Unknown.Syncs())
	assert.True(t, SendSynch.Sends() && SendSynch.Syncs() && !SendSynch.Senses())
	assert.Equal(t, "FLAG_SENSE_SEND", SenseSend.String())
}
