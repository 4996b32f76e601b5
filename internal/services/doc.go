// Package services defines shared utilities consumed by the job executor and
// the external collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, attempt numbers, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so collaborator failures
//     carry a category the retry engine can classify (connectivity, timeout,
//     server fault, malformed response, rejection, permission).
//
// Collaborator clients should wrap every failure with one of the markers so
// that classification never depends on string matching.
package services
