package comms

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
)

// CopyLocal is passed to AddLink to keep a local copy of every sent field.
const CopyLocal = true

// Bus is a thread-safe store of typed fields grouped into links.
// A single mutex guards every link's fields; transports are always called
// with the mutex released.
type Bus struct {
	mu     sync.Mutex
	links  map[string]*link
	logger *logging.Logger
}

type link struct {
	id        string
	fields    map[string]Value
	transport Transport
	copyLocal bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for recovered errors.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l.WithComponent("comms")
		}
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		links:  make(map[string]*link),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddLink registers a link. transport may be nil for a purely local link.
// Returns ErrDuplicateLink, leaving the existing link untouched, if id is taken.
func (b *Bus) AddLink(id string, transport Transport, copyLocal bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.links[id]; exists {
		b.logger.Warn("link id already in use", "link", id)
		return fmt.Errorf("%w: %s", ErrDuplicateLink, id)
	}

	b.links[id] = &link{
		id:        id,
		fields:    make(map[string]Value),
		transport: transport,
		copyLocal: copyLocal,
	}
	b.logger.Debug("link added", "link", id, "copy_local", copyLocal)
	return nil
}

// Send builds a value of the given kind and sends it on a link.
func (b *Bus) Send(linkID, field string, kind Kind, payload any) error {
	v, err := NewValue(kind, payload)
	if err != nil {
		b.logger.Warn("send rejected", "link", linkID, "field", field, "error", err)
		return fmt.Errorf("send %s/%s: %w", linkID, field, err)
	}
	return b.SendValue(linkID, field, v)
}

// SendValue stores v locally when the link copies locally, then hands it to
// the link's transport. The value is restamped so replacing a field always
// yields a fresh timestamp.
//
// Transport errors are returned wrapped and should be treated as fatal for
// the link.
func (b *Bus) SendValue(linkID, field string, v Value) error {
	v = v.restamp()

	b.mu.Lock()
	l, ok := b.links[linkID]
	if !ok {
		b.mu.Unlock()
		b.logger.Warn("send to unknown link", "link", linkID, "field", field)
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}
	if l.copyLocal {
		l.fields[field] = v
	}
	transport := l.transport
	b.mu.Unlock()

	if transport == nil {
		return nil
	}
	if err := transport.Send(field, v); err != nil {
		b.logger.Error("transport send failed", "link", linkID, "field", field, "error", err)
		return fmt.Errorf("link %s: send %s: %w", linkID, field, err)
	}
	return nil
}

// LookupValue returns the raw value stored for a field.
func (b *Bus) LookupValue(linkID, field string) (Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.links[linkID]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}
	v, ok := l.fields[field]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s/%s", ErrFieldNotFound, linkID, field)
	}
	return v, nil
}

// Lookup returns the payload of a field as T.
func Lookup[T Payload](b *Bus, linkID, field string) (T, error) {
	v, err := b.LookupValue(linkID, field)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := Extract[T](v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s/%s: %w", linkID, field, err)
	}
	return out, nil
}

// Get returns the payload of a field as T, or T's zero value (with a
// warning logged) when the link or field is missing or holds another kind.
func Get[T Payload](b *Bus, linkID, field string) T {
	out, err := Lookup[T](b, linkID, field)
	if err != nil {
		b.logger.Warn("get failed, returning default for type", "link", linkID, "field", field, "error", err)
	}
	return out
}

// GetOther returns the payload of a KindOther field, or nil.
func (b *Bus) GetOther(linkID, field string) any {
	v, err := b.LookupValue(linkID, field)
	if err == nil && v.Kind() != KindOther {
		err = fmt.Errorf("%w: stored %s, requested %s", ErrTypeMismatch, v.Kind(), KindOther)
	}
	if err != nil {
		b.logger.Warn("get failed, returning nil", "link", linkID, "field", field, "error", err)
		return nil
	}
	return v.Payload()
}

// IsSetAs reports whether a field exists and holds a T.
func IsSetAs[T Payload](b *Bus, linkID, field string) bool {
	v, err := b.LookupValue(linkID, field)
	return err == nil && v.Kind() == kindFor[T]()
}

// IsSet reports whether a field exists.
func (b *Bus) IsSet(linkID, field string) bool {
	_, err := b.LookupValue(linkID, field)
	return err == nil
}

// HasNew reports whether a field exists and was written strictly after since.
func (b *Bus) HasNew(linkID, field string, since time.Time) bool {
	v, err := b.LookupValue(linkID, field)
	return err == nil && v.CreatedAt().After(since)
}

// LinkExists reports whether a link id is registered.
func (b *Bus) LinkExists(linkID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.links[linkID]
	return ok
}

// Links returns the registered link ids in sorted order.
func (b *Bus) Links() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.links))
	for id := range b.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fields returns the field names currently stored on a link, sorted.
func (b *Bus) Fields(linkID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.links[linkID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(l.fields))
	for name := range l.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Receive pulls pending inbound data from a link's transport into its fields.
func (b *Bus) Receive(linkID string) error {
	b.mu.Lock()
	l, ok := b.links[linkID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}
	transport := l.transport
	b.mu.Unlock()

	if transport == nil {
		return nil
	}
	if err := transport.Receive(linkWriter{bus: b, linkID: linkID}); err != nil {
		return fmt.Errorf("link %s: receive: %w", linkID, err)
	}
	return nil
}

// ReceiveAll calls Receive on every link and joins any errors.
func (b *Bus) ReceiveAll() error {
	var errs []error
	for _, id := range b.Links() {
		if err := b.Receive(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every transport that implements io.Closer.
func (b *Bus) Close() error {
	b.mu.Lock()
	var closers []io.Closer
	for _, id := range sortedKeys(b.links) {
		if c, ok := b.links[id].transport.(io.Closer); ok {
			closers = append(closers, c)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// set stores a value received from a transport.
func (b *Bus) set(linkID, field string, v Value) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.links[linkID]
	if !ok {
		return false
	}
	l.fields[field] = v
	return true
}

// linkWriter is the FieldWriter handed to a transport during Receive.
type linkWriter struct {
	bus    *Bus
	linkID string
}

func (w linkWriter) Set(field string, v Value) {
	w.bus.set(w.linkID, field, v)
}

func sortedKeys(m map[string]*link) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
