package comms

import (
	"fmt"
	"slices"
	"time"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/clock"
)

// Kind discriminates the payload stored in a Value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindIntArray
	KindDouble
	KindDoubleArray
	KindString
	// KindOther holds any payload the typed kinds do not cover. Transports
	// cannot encode it; it is only useful on local links.
	KindOther
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindIntArray:
		return "IntArray"
	case KindDouble:
		return "Double"
	case KindDoubleArray:
		return "DoubleArray"
	case KindString:
		return "String"
	case KindOther:
		return "Other"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Payload is the set of Go types with a dedicated Kind.
type Payload interface {
	bool | int | []int | float64 | []float64 | string
}

// Value is an immutable, timestamped, typed field value.
type Value struct {
	kind      Kind
	payload   any
	createdAt time.Time
}

// NewValue builds a Value, rejecting payloads whose Go type does not match kind.
func NewValue(kind Kind, payload any) (Value, error) {
	if err := checkKind(kind, payload); err != nil {
		return Value{}, err
	}
	return Value{
		kind:      kind,
		payload:   clonePayload(payload),
		createdAt: clock.Now(),
	}, nil
}

// Bool builds a Bool value.
func Bool(b bool) Value { return mustValue(KindBool, b) }

// Int builds an Int value.
func Int(i int) Value { return mustValue(KindInt, i) }

// IntArray builds an IntArray value. The slice is copied.
func IntArray(a []int) Value { return mustValue(KindIntArray, a) }

// Double builds a Double value.
func Double(d float64) Value { return mustValue(KindDouble, d) }

// DoubleArray builds a DoubleArray value. The slice is copied.
func DoubleArray(a []float64) Value { return mustValue(KindDoubleArray, a) }

// String builds a String value.
func String(s string) Value { return mustValue(KindString, s) }

// Other builds an Other value around an arbitrary payload.
func Other(p any) Value { return mustValue(KindOther, p) }

func mustValue(kind Kind, payload any) Value {
	v, err := NewValue(kind, payload)
	if err != nil {
		panic(err)
	}
	return v
}

// Kind returns the value's discriminant.
func (v Value) Kind() Kind { return v.kind }

// CreatedAt returns the monotonic creation timestamp.
func (v Value) CreatedAt() time.Time { return v.createdAt }

// Payload returns a copy of the raw payload.
func (v Value) Payload() any { return clonePayload(v.payload) }

// IsZero reports whether v was never constructed.
func (v Value) IsZero() bool { return v.createdAt.IsZero() }

// restamp returns a copy of v with a fresh creation time.
func (v Value) restamp() Value {
	v.createdAt = clock.Now()
	return v
}

// Extract returns the payload as T, or ErrTypeMismatch when T does not
// correspond to the value's kind.
func Extract[T Payload](v Value) (T, error) {
	var zero T
	want := kindFor[T]()
	if v.kind != want {
		return zero, fmt.Errorf("%w: stored %s, requested %s", ErrTypeMismatch, v.kind, want)
	}
	p, ok := v.payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: payload %T", ErrTypeMismatch, v.payload)
	}
	return clonePayload(any(p)).(T), nil
}

// kindFor maps a Payload type parameter to its Kind.
func kindFor[T Payload]() Kind {
	var zero T
	switch any(zero).(type) {
	case bool:
		return KindBool
	case int:
		return KindInt
	case []int:
		return KindIntArray
	case float64:
		return KindDouble
	case []float64:
		return KindDoubleArray
	default:
		return KindString
	}
}

func checkKind(kind Kind, payload any) error {
	ok := false
	switch kind {
	case KindBool:
		_, ok = payload.(bool)
	case KindInt:
		_, ok = payload.(int)
	case KindIntArray:
		_, ok = payload.([]int)
	case KindDouble:
		_, ok = payload.(float64)
	case KindDoubleArray:
		_, ok = payload.([]float64)
	case KindString:
		_, ok = payload.(string)
	case KindOther:
		ok = payload != nil
	}
	if !ok {
		return fmt.Errorf("%w: kind %s cannot hold %T", ErrTypeMismatch, kind, payload)
	}
	return nil
}

func clonePayload(p any) any {
	switch a := p.(type) {
	case []int:
		return slices.Clone(a)
	case []float64:
		return slices.Clone(a)
	default:
		return p
	}
}
