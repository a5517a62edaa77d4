// Package pipeline composes the full delivery cycle:
//
//	Sanitize -> Authorize -> Select adapters -> Dedup check -> Shape per
//	channel -> Deliver (retry/circuit/fallback)
//
// Every transform is copy-on-write; the caller's request is never mutated.
// The pipeline runs once per Submit with no ordering between independent
// requests — callers may fan Submit out across workers.
package pipeline
