// Package link owns the MAVLink transport: it establishes the connection,
// verifies liveness through heartbeats, serializes outbound writes and fans
// inbound frames out to the telemetry stream and to pending request/response
// waiters.
package link

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Identity describes one end-to-end link to a vehicle. The target system and
// component are resolved from the first heartbeat and are immutable for the
// lifetime of the connection.
type Identity struct {
	Device          string
	Baud            int
	TargetSystem    byte
	TargetComponent byte
}

// Frame is one decoded unit of the wire protocol together with its origin.
type Frame struct {
	Message     message.Message
	SystemID    byte
	ComponentID byte
	Received    time.Time
}
