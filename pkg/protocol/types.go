// Package protocol defines the JSON-over-stdio exchange between a host and a
// provider executable. One provider process services one action: the action
// is passed as the argument ral_action=<action>, the request arrives on stdin
// as a single JSON document and the response is written to stdout as a single
// line of JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openfroyo/ral/pkg/ral"
)

// ActionArg is the prefix of the command line token that names the action.
const ActionArg = "ral_action="

// Action names a provider action.
type Action string

const (
	// ActionDescribe prints the provider's metadata
	ActionDescribe Action = "describe"
	// ActionGet fetches resources by name
	ActionGet Action = "get"
	// ActionSet enforces desired states
	ActionSet Action = "set"
	// ActionList returns every resource the provider manages
	ActionList Action = "list"
	// ActionFind fetches one resource
	ActionFind Action = "find"
	// ActionUpdate enforces one desired state
	ActionUpdate Action = "update"
)

// Actions lists every action in the order providers usually declare them.
var Actions = []Action{ActionDescribe, ActionGet, ActionSet, ActionList, ActionFind, ActionUpdate}

// Validate checks if the action is known.
func (a Action) Validate() error {
	switch a {
	case ActionDescribe, ActionGet, ActionSet, ActionList, ActionFind, ActionUpdate:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// Arg returns the command line token requesting a.
func (a Action) Arg() string {
	return ActionArg + string(a)
}

// ActionFromArgs returns the action named by the first ral_action= token in
// args. The action is returned as given, without validation.
func ActionFromArgs(args []string) (Action, bool) {
	for _, arg := range args {
		if name, ok := strings.CutPrefix(arg, ActionArg); ok {
			return Action(name), true
		}
	}
	return "", false
}

// GetRequest asks for resources by name.
type GetRequest struct {
	Names []string `json:"names"`
}

// ResourcesResponse answers get and list.
type ResourcesResponse struct {
	Resources []ral.Resource `json:"resources"`
}

// SetRequest carries the updates a set action enforces.
type SetRequest struct {
	Updates []SetUpdate `json:"updates"`
	Ral     RalOptions  `json:"ral"`
}

// RalOptions are the host's options for a set action.
type RalOptions struct {
	Noop bool `json:"noop"`
}

// SetUpdate is one element of a set request. Is and Should are flat
// attribute objects; a "name" key inside them is ignored in favor of Name.
type SetUpdate struct {
	Name   string    `json:"name"`
	Is     ral.Attrs `json:"is"`
	Should ral.Attrs `json:"should"`
}

// NewSetUpdate creates the wire form of upd.
func NewSetUpdate(upd *ral.Update) SetUpdate {
	return SetUpdate{
		Name:   upd.Name(),
		Is:     upd.Is.Without(ral.NameAttr).Attrs,
		Should: upd.Should.Without(ral.NameAttr).Attrs,
	}
}

// Update converts the wire form into a ral.Update.
func (u SetUpdate) Update() *ral.Update {
	is := ral.NewResource(u.Name, u.Is).Without(ral.NameAttr)
	should := ral.NewResource(u.Name, u.Should).Without(ral.NameAttr)
	return ral.NewUpdate(is, should)
}

// Validate checks that the update names a resource.
func (u SetUpdate) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("update is missing a name")
	}
	return nil
}

// ChangeValue is the wire form of a single attribute change.
type ChangeValue struct {
	Is  any `json:"is"`
	Was any `json:"was"`
}

// ChangeEntry holds the changes reported for one resource in a set response.
// On the wire it is a flat object: "name" plus one ChangeValue per attribute.
type ChangeEntry struct {
	Name    string
	Changes map[string]ChangeValue
}

// MarshalJSON encodes the entry as a flat object.
func (e ChangeEntry) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Changes)+1)
	for attr, c := range e.Changes {
		obj[attr] = c
	}
	obj[ral.NameAttr] = e.Name
	return json.Marshal(obj)
}

// UnmarshalJSON decodes a flat object with a string "name".
func (e *ChangeEntry) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	raw, ok := obj[ral.NameAttr]
	if !ok {
		return fmt.Errorf("change entry does not have a name")
	}
	if err := json.Unmarshal(raw, &e.Name); err != nil {
		return fmt.Errorf("change entry name: %w", err)
	}
	delete(obj, ral.NameAttr)

	e.Changes = make(map[string]ChangeValue, len(obj))
	for attr, raw := range obj {
		var c ChangeValue
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("change of %s: %w", attr, err)
		}
		e.Changes[attr] = c
	}
	return nil
}

// SetResponse answers set. When Derive is true, the host computes changes by
// comparing is and should for every update without an entry in Changes.
type SetResponse struct {
	Derive  bool          `json:"derive"`
	Changes []ChangeEntry `json:"changes"`
}

// FindRequest asks for a single resource.
type FindRequest struct {
	Resource ResourceRef `json:"resource"`
}

// ResourceRef names a resource.
type ResourceRef struct {
	Name string `json:"name"`
}

// FindResponse answers find.
type FindResponse struct {
	Resource ral.Resource `json:"resource"`
}

// UpdateRequest carries the desired state of a single resource.
type UpdateRequest struct {
	Resource ral.Resource `json:"resource"`
}

// UpdateResponse answers update with the attributes whose value changed.
type UpdateResponse struct {
	Changes map[string]ChangeValue `json:"changes"`
}

// ErrorResponse is written instead of a regular response when an action
// fails.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed action. Kind is "unknown" for lookups that
// found nothing and empty otherwise.
type ErrorBody struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
