package comms

import "errors"

var (
	// ErrLinkNotFound is returned when an operation names an unregistered link.
	ErrLinkNotFound = errors.New("link not found")

	// ErrFieldNotFound is returned when a link holds no value for a field.
	ErrFieldNotFound = errors.New("field not found")

	// ErrTypeMismatch is returned when a stored or supplied payload does not
	// match the requested kind.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDuplicateLink is returned by AddLink when the id is already in use.
	ErrDuplicateLink = errors.New("link id already in use")

	// ErrUnsupportedKind is returned when a transport cannot encode a kind.
	ErrUnsupportedKind = errors.New("kind not supported by link")

	// ErrUnencodable is returned when a field name or string payload contains
	// a character that would break the line framing.
	ErrUnencodable = errors.New("value cannot be framed on the wire")

	// ErrTransportOpen is returned when a transport cannot be acquired.
	ErrTransportOpen = errors.New("transport open failed")

	// ErrTransportClose is returned when a transport cannot be released.
	ErrTransportClose = errors.New("transport close failed")

	// ErrTransportWrite is returned when draining or writing to a device fails.
	ErrTransportWrite = errors.New("transport write failed")

	// ErrTransportRead is returned once the inbound side of a device fails.
	ErrTransportRead = errors.New("transport read failed")
)

// Line decoding failures. Callers discard the offending line.
var (
	// ErrNotData marks a line without the "~~" prefix (device diagnostic text).
	ErrNotData = errors.New("line is not a data line")

	// ErrMalformedLine marks a data line that does not split into field, type and data.
	ErrMalformedLine = errors.New("malformed data line")

	// ErrUnknownTypeCode marks a data line with an unrecognized type code.
	ErrUnknownTypeCode = errors.New("unknown type code")

	// ErrLineTooLong marks input discarded because no newline arrived in time.
	ErrLineTooLong = errors.New("unterminated line exceeds buffer")
)
