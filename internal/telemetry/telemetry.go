// Package telemetry ingests the inbound frame stream into a consistent,
// concurrently readable snapshot of the vehicle state.
package telemetry

// GPS is the last known GPS fix.
type GPS struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Alt        float64 `json:"alt"`
	Satellites int     `json:"satellites"`
	FixType    int     `json:"fix_type"`
	HDOP       float64 `json:"hdop"`
}

// Battery is the last known battery state.
type Battery struct {
	Voltage   float64 `json:"voltage"`
	Current   float64 `json:"current"`
	Remaining float64 `json:"remaining"`
}

// BatteryReport is Battery plus an endurance estimate.
type BatteryReport struct {
	Battery
	TimeRemainingMinutes float64 `json:"time_remaining_minutes"`
}

// Attitude is the vehicle orientation in degrees.
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Position is a geographic position.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Velocity is the last known velocity state in m/s.
type Velocity struct {
	GroundSpeed float64 `json:"ground_speed"`
	VX          float64 `json:"vx"`
	VY          float64 `json:"vy"`
	VZ          float64 `json:"vz"`
}

// Snapshot is a point-in-time copy of all metric groups. Reads always
// receive a copy, never a live reference.
type Snapshot struct {
	Connected    bool     `json:"connected"`
	Altitude     float64  `json:"altitude"`
	Speed        float64  `json:"speed"`
	ClimbRate    float64  `json:"climb_rate"`
	Throttle     int      `json:"throttle"`
	Armed        bool     `json:"armed"`
	Mode         string   `json:"mode"`
	SystemStatus int      `json:"system_status"`
	GPS          GPS      `json:"gps"`
	Battery      Battery  `json:"battery"`
	Attitude     Attitude `json:"attitude"`
	Velocity     Velocity `json:"velocity"`
	Home         Position `json:"home_position"`
}

// Status is the condensed state used by the status endpoint.
type Status struct {
	Connected    bool   `json:"connected"`
	Armed        bool   `json:"armed"`
	Mode         string `json:"mode"`
	SystemStatus int    `json:"system_status"`
}

// PreflightReport is the named safety checklist. Ready is the logical AND
// of all entries.
type PreflightReport struct {
	GPSFix    bool `json:"gps_fix"`
	BatteryOK bool `json:"battery_ok"`
	EKFOK     bool `json:"ekf_ok"`
	HomeSet   bool `json:"home_set"`
	SensorsOK bool `json:"sensors_ok"`
	Ready     bool `json:"ready"`
}
