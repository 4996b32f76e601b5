// Package daemon coordinates the long-running nutrilog process.
//
// It wires the job store, the scheduler, the connectivity monitor, the event
// hub and the HTTP API into a single lifecycle with flock-based locking so two
// daemons never dispatch from the same data directory. The daemon also backs
// the mutating API routes (submit, retry, purge) and assembles the status
// payload served to the CLI.
//
// Keep orchestration here: attempt execution lives in executor, dispatch and
// recovery in scheduler, and artifact cleanup in lifecycle.
package daemon
