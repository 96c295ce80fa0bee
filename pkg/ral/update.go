package ral

import (
	"encoding/json"
	"fmt"
)

// Change records the enforcement of a single attribute: Was is the value
// before the provider acted, Is the value it actually enforced.
type Change struct {
	Attr string
	Is   any
	Was  any
}

func (c Change) String() string {
	return fmt.Sprintf("%s(%v -> %v)", c.Attr, c.Was, c.Is)
}

// MarshalJSON encodes the change as {"is": ..., "was": ...}. The attribute
// name is carried by the enclosing object's key.
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Is  any `json:"is"`
		Was any `json:"was"`
	}{c.Is, c.Was})
}

// Update pairs the current state of a resource with its desired state and
// collects the changes made while enforcing it.
type Update struct {
	Is      Resource
	Should  Resource
	Changes []Change
}

// NewUpdate creates an update. The desired state is renamed to match is, so
// the update's name always equals the name of its current state.
func NewUpdate(is, should Resource) *Update {
	if is.Attrs == nil {
		is.Attrs = Attrs{}
	}
	if should.Attrs == nil {
		should.Attrs = Attrs{}
	}
	should.Name = is.Name
	return &Update{Is: is, Should: should}
}

// Name returns the name of the resource being updated.
func (u *Update) Name() string {
	return u.Is.Name
}

// Lookup returns the desired value of attr if one is given, otherwise the
// current value.
func (u *Update) Lookup(attr string) (any, bool) {
	if v, ok := u.Should.Attrs[attr]; ok {
		return v, true
	}
	v, ok := u.Is.Attrs[attr]
	return v, ok
}

// Get is Lookup without the presence flag; missing attributes yield nil.
func (u *Update) Get(attr string) any {
	v, _ := u.Lookup(attr)
	return v
}

// Changed reports whether attr differs between the current and desired state.
func (u *Update) Changed(attr string) bool {
	return !ValuesEqual(u.Is.Attrs[attr], u.Should.Attrs[attr])
}

// Record adds c to the update's changes, replacing an earlier change of the
// same attribute.
func (u *Update) Record(c Change) {
	for i := range u.Changes {
		if u.Changes[i].Attr == c.Attr {
			u.Changes[i] = c
			return
		}
	}
	u.Changes = append(u.Changes, c)
}

// Resource returns the state the resource is in after the update: the current
// attributes, overlaid with the desired ones, overlaid with what was actually
// enforced.
func (u *Update) Resource() Resource {
	attrs := u.Is.Attrs.Clone()
	for k, v := range u.Should.Attrs {
		attrs[k] = v
	}
	for _, c := range u.Changes {
		attrs[c.Attr] = c.Is
	}
	return Resource{Name: u.Name(), Attrs: attrs}
}

func (u *Update) String() string {
	return fmt.Sprintf("<update %s: is=%s should=%s changes=%v>", u.Name(), u.Is, u.Should, u.Changes)
}
