package records

import "fmt"

// FileID identifies a region in the non-volatile store. The numbering is the on-device schema and must not change.
type FileID uint8

const (
	ErrorFile             FileID = 0  // ErrorFile holds the consecutive error count and the last error lines
	DeviceIdentityFile    FileID = 1  // DeviceIdentityFile holds the radio credentials written at provisioning
	ScheduleFile          FileID = 2  // ScheduleFile holds the clock based sensing schedule
	SendScheduleFile      FileID = 3  // SendScheduleFile holds the forced upload times
	ClockSyncFile         FileID = 4  // ClockSyncFile holds the daily clock synchronisation time
	FlagsFile             FileID = 5  // FlagsFile holds the pending wake reasons
	NextTimeFile          FileID = 6  // NextTimeFile holds the planned sleep relative to the anchor
	TimeAnchorFile        FileID = 7  // TimeAnchorFile holds the time of day of the last accounted wake
	MetricGroupFlagsFile  FileID = 8  // MetricGroupFlagsFile holds the bitmask of groups due for sensing
	GroupIntervalsFile    FileID = 9  // GroupIntervalsFile holds the interval period of each group
	GroupAccumulatorsFile FileID = 10 // GroupAccumulatorsFile holds the carried-over seconds of each interval group
	MetricGroupAFile      FileID = 11
	MetricGroupBFile      FileID = 12
	MetricGroupCFile      FileID = 13
	MetricGroupDFile      FileID = 14
	EntriesFile           FileID = 15 // EntriesFile holds the entry and byte counters of every group
	InterruptFile         FileID = 16
	IncrementAFile        FileID = 17 // IncrementAFile counts wake cycles since the last send
	IncrementBFile        FileID = 18 // IncrementBFile counts seconds since the last send
	IncrementCFile        FileID = 19 // IncrementCFile counts seconds since the last clock sync
	SendProgressFile      FileID = 20
)

// Group is a metric group. A to D are scheduled, Interrupt collects entries recorded from the interrupt hook.
type Group uint8

const (
	GroupA Group = iota
	GroupB
	GroupC
	GroupD
	GroupInterrupt
)

// NumScheduledGroups is the number of groups that can be scheduled (A to D).
const NumScheduledGroups = 4

// NumGroups includes the interrupt pseudo-group.
const NumGroups = 5

// ScheduledGroups lists the groups A to D in order.
var ScheduledGroups = []Group{GroupA, GroupB, GroupC, GroupD}

// AllGroups lists every group in send order.
var AllGroups = []Group{GroupA, GroupB, GroupC, GroupD, GroupInterrupt}

func (g Group) String() string {
	switch g {
	case GroupA:
		return "A"
	case GroupB:
		return "B"
	case GroupC:
		return "C"
	case GroupD:
		return "D"
	case GroupInterrupt:
		return "interrupt"
	}
	return fmt.Sprintf("group(%d)", uint8(g))
}

// Mask returns the bit of the group in a MetricGroupFlags value. The interrupt group has no bit.
func (g Group) Mask() uint16 {
	if g >= NumScheduledGroups {
		return 0
	}
	return 1 << g
}

// DataFile returns the file that holds the group's buffered bytes.
func (g Group) DataFile() (FileID, error) {
	switch g {
	case GroupA:
		return MetricGroupAFile, nil
	case GroupB:
		return MetricGroupBFile, nil
	case GroupC:
		return MetricGroupCFile, nil
	case GroupD:
		return MetricGroupDFile, nil
	case GroupInterrupt:
		return InterruptFile, nil
	}
	return 0, fmt.Errorf("unknown metric group %d", g)
}

// ParseGroup converts the configuration name of a group ("A".."D") into a Group.
func ParseGroup(name string) (Group, error) {
	switch name {
	case "A", "a":
		return GroupA, nil
	case "B", "b":
		return GroupB, nil
	case "C", "c":
		return GroupC, nil
	case "D", "d":
		return GroupD, nil
	}
	return 0, fmt.Errorf("unknown metric group '%s'", name)
}
