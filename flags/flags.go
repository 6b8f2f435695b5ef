package flags

import (
	"errors"
	"fmt"

	"github.com/thinkpilot/nodeflow/records"
)

// Flag is the single resolved reason for a wake. The numbering matches the values logged by deployed nodes.
type Flag int

const (
	WDG            Flag = 0 // WDG means nothing is due, the watchdog is kicked and the node goes back to sleep
	Sensing        Flag = 1
	ClockSynch     Flag = 2
	Sending        Flag = 3
	WakeupPin      Flag = 4 // WakeupPin means the external interrupt pin woke the node
	SenseSynch     Flag = 5
	SenseSend      Flag = 6
	SendSynch      Flag = 7
	SenseSendSynch Flag = 8
	Unknown        Flag = 9 // Unknown should never happen, it is logged and handled as a watchdog kick
)

// ErrUnknownFlag is recorded when the persisted wake reasons do not resolve to a known flag.
var ErrUnknownFlag = errors.New("unknown wakeup flag")

const knownBits = records.DueSense | records.DueSend | records.DueClock | records.DueKick

// combinations maps the canonical due bits (without the kick bit) to their flag.
var combinations = map[uint16]Flag{
	records.DueSense:                                      Sensing,
	records.DueSend:                                       Sending,
	records.DueSense | records.DueSend:                    SenseSend,
	records.DueClock:                                      ClockSynch,
	records.DueSense | records.DueClock:                   SenseSynch,
	records.DueSend | records.DueClock:                    SendSynch,
	records.DueSense | records.DueSend | records.DueClock: SenseSendSynch,
}

// Resolve combines the independently set due bits and the wakeup pin into one Flag.
//
// The pin takes precedence as the wake was unplanned. The watchdog is kicked on every wake, so the kick bit only
// matters on its own. Zero bits, or bits outside the known set, resolve to Unknown.
func Resolve(due uint16, pin bool) Flag {
	if pin {
		return WakeupPin
	}
	if due&^knownBits != 0 {
		return Unknown
	}
	if due == records.DueKick {
		return WDG
	}
	flag, ok := combinations[due&^records.DueKick]
	if !ok {
		return Unknown
	}
	return flag
}

// ResolveRecord is Resolve applied to a persisted FlagsRecord.
func ResolveRecord(rec records.FlagsRecord) Flag {
	return Resolve(rec.Due, rec.WakeupPin)
}

// Senses is true if metric groups should be read on this wake.
func (f Flag) Senses() bool {
	return f == Sensing || f == SenseSend || f == SenseSynch || f == SenseSendSynch
}

// Sends is true if the buffered data should be uploaded on this wake.
func (f Flag) Sends() bool {
	return f == Sending || f == SenseSend || f == SendSynch || f == SenseSendSynch
}

// Syncs is true if the clock should be synchronised on this wake.
func (f Flag) Syncs() bool {
	return f == ClockSynch || f == SenseSynch || f == SendSynch || f == SenseSendSynch
}

func (f Flag) String() string {
	switch f {
	case WDG:
		return "FLAG_WDG"
	case Sensing:
		return "FLAG_SENSING"
	case ClockSynch:
		return "FLAG_CLOCK_SYNCH"
	case Sending:
		return "FLAG_SENDING"
	case WakeupPin:
		return "FLAG_WAKEUP_PIN"
	case SenseSynch:
		return "FLAG_SENSE_SYNCH"
	case SenseSend:
		return "FLAG_SENSE_SEND"
	case SendSynch:
		return "FLAG_SEND_SYNCH"
	case SenseSendSynch:
		return "FLAG_SENSE_SEND_SYNCH"
	case Unknown:
		return "FLAG_UNKNOWN"
	}
	return fmt.Sprintf("FLAG(%d)", int(f))
}
