// Package ral defines the reconciliation data model shared by providers and
// the hosts that drive them.
//
// A Resource is a named entity with a mapping of attributes. An Update pairs
// the current state of a resource (Is) with its desired state (Should) and
// records the Changes a provider had to make to enforce Should.
//
// Attribute values are JSON-like: strings, booleans, numbers, and ordered
// sequences. Equality between values is structural; a []string and a []any
// holding the same strings compare equal, as do integer and float numbers of
// the same value.
//
//	is := ral.NewResource("web", ral.Attrs{"ensure": "absent"})
//	should := ral.NewResource("web", ral.Attrs{"ensure": "present"})
//	upd := ral.NewUpdate(is, should)
//	if upd.Changed("ensure") {
//	    // enforce, then record
//	    upd.Record(ral.Change{Attr: "ensure", Is: "present", Was: "absent"})
//	}
package ral
