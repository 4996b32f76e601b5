// Package config loads, normalizes, and validates nutrilog configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for
// credentials such as NUTRILOG_ANALYSIS_API_KEY. The Config type centralizes
// every knob the daemon and CLI need so the retry policy, worker pool and
// collaborator endpoints are discovered in one pass.
package config
