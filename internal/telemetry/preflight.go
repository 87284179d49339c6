package telemetry

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"

	"github.com/dronix/groundstation/internal/link"
)

const (
	preflightQueryTimeout = 2 * time.Second

	minSatellites    = 6
	minFixType       = 3 // 3D fix
	minBatteryRemain = 30
)

// Preflight aggregates the safety checklist: three checks read the current
// snapshot, two wait for the vehicle's next extended status reports on the
// link with a short timeout each.
func (s *Store) Preflight() PreflightReport {
	s.mu.RLock()
	gps := s.data.GPS
	battery := s.data.Battery
	home := s.data.Home
	s.mu.RUnlock()

	var r PreflightReport
	r.GPSFix = gps.FixType >= minFixType && gps.Satellites >= minSatellites
	r.BatteryOK = battery.Remaining > minBatteryRemain
	r.HomeSet = home.Lat != 0

	if f, ok := s.link.Await(preflightQueryTimeout, func(f link.Frame) bool {
		_, ok := f.Message.(*ardupilotmega.MessageEkfStatusReport)
		return ok
	}); ok {
		ekf := f.Message.(*ardupilotmega.MessageEkfStatusReport)
		r.EKFOK = ekf.Flags&ardupilotmega.EKF_ATTITUDE != 0
	}

	if f, ok := s.link.Await(preflightQueryTimeout, func(f link.Frame) bool {
		_, ok := f.Message.(*ardupilotmega.MessageSysStatus)
		return ok
	}); ok {
		sys := f.Message.(*ardupilotmega.MessageSysStatus)
		enabled := sys.OnboardControlSensorsEnabled
		r.SensorsOK = sys.OnboardControlSensorsHealth&enabled == enabled
	}

	r.Ready = r.GPSFix && r.BatteryOK && r.EKFOK && r.HomeSet && r.SensorsOK
	return r
}
