package comms

import "fmt"

// Redis key pattern helpers
//
// Mirror keys and channels are namespaced by vehicle so several vehicles can
// share one shore-side Redis server.
//
// Key pattern: robosub:{vehicle}:link:{link_id}
// Channel pattern: robosub:{vehicle}:link:{link_id}:{direction}

// MirrorKey returns the Redis hash holding the last line sent per field.
// Pattern: robosub:{vehicle}:link:{link_id}
func MirrorKey(vehicle, linkID string) string {
	return fmt.Sprintf("robosub:%s:link:%s", vehicle, linkID)
}

// TelemetryChannel returns the channel every outbound line is published on.
// Pattern: robosub:{vehicle}:link:{link_id}:telemetry
func TelemetryChannel(vehicle, linkID string) string {
	return fmt.Sprintf("robosub:%s:link:%s:telemetry", vehicle, linkID)
}

// CommandsChannel returns the channel a shore station publishes lines on.
// Pattern: robosub:{vehicle}:link:{link_id}:commands
func CommandsChannel(vehicle, linkID string) string {
	return fmt.Sprintf("robosub:%s:link:%s:commands", vehicle, linkID)
}
