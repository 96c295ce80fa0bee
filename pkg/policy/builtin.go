package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		resourceNamingPolicy(),
		protectedResourcesPolicy(),
		loopbackAddressPolicy(),
	}
}

// resourceNamingPolicy rejects names that cannot identify a resource.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource names must be non-empty and free of whitespace",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package ral.policies.naming

deny contains msg if {
	trim_space(input.name) == ""
	msg := sprintf("%s resource must have a name", [input.type])
}

deny contains msg if {
	trim_space(input.name) != ""
	regex.match("\\s", input.name)
	msg := sprintf("resource name %q must not contain whitespace", [input.name])
}`,
	}
}

// protectedResourcesPolicy keeps resources the system depends on from being
// removed.
func protectedResourcesPolicy() Policy {
	return Policy{
		Name:        "protected-resources",
		Description: "Prevents removal of resources the system depends on",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package ral.policies.protected

protected := {
	"host": {"localhost", "ip6-localhost", "ip6-loopback"},
	"user": {"root"},
	"group": {"root", "wheel"},
}

deny contains msg if {
	input.should.ensure == "absent"
	"ensure" in input.changed
	input.name in protected[input.type]
	msg := sprintf("%s[%s] is protected and must not be removed", [input.type, input.name])
}`,
	}
}

// loopbackAddressPolicy warns about hosts entries that send a regular name to
// the loopback interface.
func loopbackAddressPolicy() Policy {
	return Policy{
		Name:        "loopback-address",
		Description: "Warns when a host other than localhost resolves to a loopback address",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package ral.policies.loopback

loopback_names := {"localhost", "localhost.localdomain", "ip6-localhost", "ip6-loopback"}

loopback(ip) if startswith(ip, "127.")

loopback(ip) if ip == "::1"

deny contains violation if {
	input.type == "host"
	ip := input.should.ip
	loopback(ip)
	not input.name in loopback_names
	violation := {
		"message": sprintf("host %s points at loopback address %s", [input.name, ip]),
		"severity": "warning",
	}
}`,
	}
}
