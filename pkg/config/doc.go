// Package config loads ralsh settings and desired-state manifests.
//
// # Manifests
//
// A manifest declares resources and the attribute values they should have.
// Manifests are CUE (.cue files or directories of them, unified into one
// document), YAML or JSON. Two forms are accepted and may be mixed:
//
//	resources: [
//		{type: "host", name: "web", attrs: {ip: "10.0.0.1"}},
//	]
//
//	host: db: {ip: "10.0.0.2", host_aliases: ["postgres"]}
//
// CUE manifests may use the whole language, so common attributes can be
// shared:
//
//	_managed: {ensure: "present", comment: "managed by ralsh"}
//	host: web: _managed & {ip: "10.0.0.1"}
//
// Every document is checked against a built-in CUE schema; errors carry file
// and line where CUE knows them. Resources are then validated individually
// and a type[name] may only be declared once.
//
// # Settings
//
// Settings are read with viper from $HOME/.ralsh.yaml (or --config), RALSH_*
// environment variables and command line flags:
//
//	include: [/usr/share/ralsh/providers]
//	log_level: info
//	target: ssh://admin@node1
//	policies: [/etc/ralsh/policies]
//	ssh:
//	  auth: agent
//	  sudo: true
//	metrics:
//	  textfile: /var/lib/node_exporter/ralsh.prom
package config
