// Package incident provides the business boundary for Respond's incident
// automation. It defines the Orchestrator (detection selection, concurrent
// fan-out, run reports), the Resolver (dedup and correlation), the Manager
// (incident lifecycle, numbering, SLA), the Generator (playbook drafting),
// the Store interface (persistence), and domain models.
package incident
