package comms

// Transport moves a link's fields to and from an external device.
type Transport interface {
	// Send pushes one field to the device.
	Send(field string, v Value) error

	// Receive reads whatever the device has produced and writes decoded
	// fields through w. It must not block waiting for new input.
	Receive(w FieldWriter) error
}

// FieldWriter writes decoded fields back into the owning link under the
// bus lock.
type FieldWriter interface {
	Set(field string, v Value)
}

// LocalLink is an inert transport. Registered with CopyLocal it makes the
// link a thread-safe in-process store.
type LocalLink struct{}

// NewLocalLink returns a LocalLink.
func NewLocalLink() *LocalLink {
	return &LocalLink{}
}

// Send does nothing.
func (*LocalLink) Send(string, Value) error { return nil }

// Receive does nothing.
func (*LocalLink) Receive(FieldWriter) error { return nil }
