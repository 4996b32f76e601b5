// Package notifications delivers job outcome pushes via ntfy.
//
// NewService publishes to the topic configured in config.toml and degrades to
// a no-op when no topic is set. Observer adapts the service to the events bus
// and applies the per-outcome toggles from the [notifications] section.
package notifications
