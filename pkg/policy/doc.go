// Package policy gates updates with Open Policy Agent (OPA) policies before
// they reach a provider.
//
// Policies are Rego modules that define a set named deny in their package.
// Each update that would change something is evaluated separately, with an
// input document of the form
//
//	{
//	    "type":    "host",
//	    "name":    "web",
//	    "is":      {"ensure": "absent"},
//	    "should":  {"ensure": "present", "ip": "10.0.0.1"},
//	    "changed": ["ensure", "ip"],
//	    "noop":    false,
//	    "target":  "local"
//	}
//
// Elements of deny are either message strings or objects with a message and
// an optional severity that overrides the policy's default. Violations of
// severity error or critical block the update; warning and info violations
// are only reported.
//
// A custom policy:
//
//	package site.policies.public_ips
//
//	deny contains msg if {
//	    input.type == "host"
//	    not net.cidr_contains("10.0.0.0/8", input.should.ip)
//	    msg := sprintf("%s must use a private address", [input.name])
//	}
//
// # Built-in Policies
//
//  1. resource-naming - names must be non-empty and contain no whitespace
//  2. protected-resources - localhost entries, root users and groups cannot be removed
//  3. loopback-address - warns about regular hosts mapped to 127.0.0.0/8 or ::1
//
// Files loaded from disk are compiled once into prepared queries. Loader.Watch
// reports changes so callers can Reload the engine.
package policy
