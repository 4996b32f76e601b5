// Package preflight provides readiness checks for the filesystem paths and
// remote endpoints that nutrilog depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check. A failed
//     check never blocks startup; jobs simply wait or fail with a classified
//     outcome.
//   - The CLI "nutrilog status" command renders the same results next to the
//     queue summary.
package preflight
