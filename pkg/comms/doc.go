// Package comms is the vehicle's typed data bus.
//
// # Overview
//
// A Bus holds named links. Each link is a set of typed, timestamped fields
// and may be bound to a Transport that moves those fields to and from an
// external device. Producers Send values, consumers Get them back by type,
// and HasNew lets a consumer detect fresh data without diffing.
//
// All field reads and writes go through one mutex on the Bus. Transport I/O
// never runs while that mutex is held.
//
// # Transports
//
//   - LocalLink: inert. Combined with copyLocal it turns a link into a shared
//     in-process store (command-line parameters, operator input).
//   - SerialLink: the microcontroller line protocol over a serial device.
//   - RedisLink: mirrors a link to Redis so a shore station can watch
//     telemetry and inject commands.
//
// # Wire Format
//
// Serial and Redis links share one line format:
//
//	~~field~type~data\n
//
// where type is one of b, i, i[], d, d[], s and array data is comma-joined.
// Lines without the leading "~~" are device diagnostics, not data.
//
// # Usage Example
//
//	bus := comms.New(comms.WithLogger(logger))
//	_ = bus.AddLink("pi", comms.NewLocalLink(), comms.CopyLocal)
//
//	_ = bus.Send("pi", "pressure_target", comms.KindDouble, 1050.0)
//	target := comms.Get[float64](bus, "pi", "pressure_target")
package comms
