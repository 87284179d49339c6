// Package copter maps ArduPilot copter custom mode numbers to their
// flight mode names, as carried in the HEARTBEAT custom_mode field.
package copter

import (
	"sort"
	"strings"
)

// ModeUnknown is reported until the first heartbeat has been decoded.
const ModeUnknown = "UNKNOWN"

var modeNames = map[uint32]string{
	0:  "STABILIZE",
	1:  "ACRO",
	2:  "ALT_HOLD",
	3:  "AUTO",
	4:  "GUIDED",
	5:  "LOITER",
	6:  "RTL",
	7:  "CIRCLE",
	9:  "LAND",
	11: "DRIFT",
	13: "SPORT",
	14: "FLIP",
	15: "AUTOTUNE",
	16: "POSHOLD",
	17: "BRAKE",
	18: "THROW",
	19: "AVOID_ADSB",
	20: "GUIDED_NOGPS",
	21: "SMART_RTL",
	22: "FLOWHOLD",
	23: "FOLLOW",
	24: "ZIGZAG",
}

var modeIDs = make(map[string]uint32, len(modeNames))

func init() {
	for id, name := range modeNames {
		modeIDs[name] = id
	}
}

// ModeID returns the custom mode number for a flight mode name.
// Lookup is case-insensitive.
func ModeID(name string) (uint32, bool) {
	id, ok := modeIDs[strings.ToUpper(name)]
	return id, ok
}

// ModeName returns the flight mode name for a custom mode number,
// or ModeUnknown for numbers outside the copter mode table.
func ModeName(id uint32) string {
	if name, ok := modeNames[id]; ok {
		return name
	}
	return ModeUnknown
}

// Modes returns all known flight mode names, sorted.
func Modes() []string {
	names := make([]string, 0, len(modeIDs))
	for name := range modeIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
