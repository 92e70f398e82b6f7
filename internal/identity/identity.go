// Package identity gives orchestrated entities a stable class/instance name
// pair used for logging and ownership lookups.
package identity

import "github.com/google/uuid"

// Named is implemented by anything carrying a Name.
type Named interface {
	ClassName() string
	InstanceName() string
	FullName() string
}

// Name is embedded by tasks, managers and workers.
type Name struct {
	class    string
	instance string
}

// New returns a Name whose instance part is a short random identifier.
func New(class string) Name {
	return Name{class: class, instance: uuid.New().String()[:8]}
}

// NewNamed returns a Name with an explicit instance name.
func NewNamed(class, instance string) Name {
	return Name{class: class, instance: instance}
}

// ClassName returns the base kind, e.g. "Task".
func (n Name) ClassName() string {
	return n.class
}

// InstanceName returns the specific name, e.g. "Submerge".
func (n Name) InstanceName() string {
	return n.instance
}

// FullName returns "class#instance".
func (n Name) FullName() string {
	return n.class + "#" + n.instance
}
