// Package api defines the HTTP surface of the nutrilog daemon: wire-format
// types, converters from internal queue and scheduler models, the chi router
// served by the daemon, and the client the CLI uses to talk to it.
//
// # Key Types
//
// Job: transport representation of a queue job including its terminal
// decision and the saved nutrition record.
//
// DaemonStatus: scheduler state, queue counts, collaborator health and
// preflight results.
//
// # Routes
//
//	POST /api/jobs                 submit a photo
//	GET  /api/jobs[?status=]       list jobs
//	GET  /api/jobs/{id}            describe one job
//	GET  /api/jobs/{id}/history    immutable event history
//	POST /api/jobs/{id}/retry      re-queue a retained failure
//	POST /api/queue/purge          drop finalized jobs past retention
//	GET  /api/queue/stats          counts per status
//	GET  /api/status               daemon status
//	GET  /api/health               readiness probe (no auth)
//	GET  /api/logs                 recent daemon log lines
//	GET  /api/events               websocket job event stream
//	GET  /metrics                  prometheus exposition (no auth)
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses are lowercase strings. Timestamps use
// RFC3339 with milliseconds in UTC.
package api
