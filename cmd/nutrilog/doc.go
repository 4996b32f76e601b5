// Package main hosts the nutrilog CLI entrypoint and command graph.
//
// The Cobra command tree turns terminal invocations into HTTP calls against
// the daemon API: photo submission, queue inspection and maintenance, status
// and log tailing. Read-only queue commands fall back to the configured job
// store when no daemon answers. The daemon itself runs in the foreground via
// `nutrilog daemon`.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it here.
package main
