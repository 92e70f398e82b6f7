package comms

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
)

// DefaultBaud is used by OpenSerial when baud is not positive.
const DefaultBaud = 115200

const readChunkSize = 256

// Port is the subset of a serial device a SerialLink needs.
type Port interface {
	io.ReadWriteCloser
	// Drain blocks until all buffered output has been transmitted.
	Drain() error
}

// SerialOption configures a SerialLink.
type SerialOption func(*SerialLink)

// WithSerialLogger sets the logger for device diagnostics and decode errors.
func WithSerialLogger(l *logging.Logger) SerialOption {
	return func(s *SerialLink) {
		if l != nil {
			s.logger = l
		}
	}
}

// SerialLink speaks the line protocol with a microcontroller.
type SerialLink struct {
	name   string
	port   Port
	logger *logging.Logger

	writeMu sync.Mutex

	parseMu sync.Mutex
	parser  Parser

	chunks  chan []byte
	readErr atomic.Pointer[error]
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// OpenSerial opens a serial device and starts reading from it.
func OpenSerial(device string, baud int, opts ...SerialOption) (*SerialLink, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransportOpen, device, err)
	}
	return NewSerialLink(port, device, opts...), nil
}

// NewSerialLink wraps an already open port. The link owns the port from
// here on and starts a goroutine reading from it.
func NewSerialLink(port Port, name string, opts ...SerialOption) *SerialLink {
	s := &SerialLink{
		name:   name,
		port:   port,
		logger: logging.Nop(),
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("device", name)

	go s.readLoop()
	return s
}

// Name returns the device name given at construction.
func (s *SerialLink) Name() string {
	return s.name
}

func (s *SerialLink) readLoop() {
	defer close(s.chunks)

	buf := make([]byte, readChunkSize)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !s.closed.Load() {
				s.readErr.Store(&err)
				s.logger.Error("serial read failed", "error", err)
			}
			return
		}
	}
}

// Send writes one field as a data line, draining pending output first.
func (s *SerialLink) Send(field string, v Value) error {
	line, err := EncodeLine(field, v)
	if err != nil {
		s.logger.Warn("cannot encode field for serial", "field", field, "error", err)
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.port.Drain(); err != nil {
		return fmt.Errorf("%w: drain: %w", ErrTransportWrite, err)
	}
	if _, err := io.WriteString(s.port, line); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWrite, err)
	}
	return nil
}

// Receive decodes every chunk read so far without waiting for more.
func (s *SerialLink) Receive(w FieldWriter) error {
	s.parseMu.Lock()
	defer s.parseMu.Unlock()

	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return s.readFailure()
			}
			applyFrames(s.parser.Feed(string(chunk)), w, s.logger)
		default:
			return nil
		}
	}
}

func (s *SerialLink) readFailure() error {
	if s.closed.Load() {
		return nil
	}
	if p := s.readErr.Load(); p != nil {
		return fmt.Errorf("%w: %w", ErrTransportRead, *p)
	}
	return ErrTransportRead
}

// Close stops the reader and closes the port.
func (s *SerialLink) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		if cerr := s.port.Close(); cerr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrTransportClose, s.name, cerr)
		}
	})
	return err
}

// ListPorts returns the serial devices present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// applyFrames writes decoded frames and logs the rest.
func applyFrames(frames []Frame, w FieldWriter, logger *logging.Logger) {
	for _, f := range frames {
		switch {
		case f.Err == nil:
			w.Set(f.Field, f.Value)
		case errors.Is(f.Err, ErrNotData):
			logger.Info("device message", "text", f.Raw)
		default:
			logger.Warn("discarding line", "line", f.Raw, "error", f.Err)
		}
	}
}
