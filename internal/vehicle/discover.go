package vehicle

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// serialCandidates are the usual flight controller device nodes, probed in
// order.
var serialCandidates = []string{
	"/dev/ttyACM0",
	"/dev/ttyACM1",
	"/dev/ttyUSB0",
	"/dev/ttyUSB1",
}

// DetectDevice resolves the device to connect to. An explicit value wins,
// whether that is a serial path, a udp: or tcp: address, or SIM. Otherwise
// the usual serial nodes are probed, then the by-id tree, and with nothing
// attached the simulation is selected.
func DetectDevice(configured string) string {
	if configured != "" {
		return configured
	}

	for _, device := range serialCandidates {
		if probeSerial(device) {
			return device
		}
	}

	if matches, err := filepath.Glob("/dev/serial/by-id/*"); err == nil {
		for _, device := range matches {
			if probeSerial(device) {
				return device
			}
		}
	}

	return SimDevice
}

// IsSerial reports whether device names a local serial node rather than a
// network address or the simulation.
func IsSerial(device string) bool {
	return strings.HasPrefix(device, "/dev/")
}

// probeSerial checks that the node exists and can be opened without
// blocking on carrier detect.
func probeSerial(device string) bool {
	f, err := os.OpenFile(device, os.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
