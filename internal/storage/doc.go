// Package storage persists dedup suppress-state across restarts so a crash
// right after an alert storm does not replay the storm.
//
// Long-term archival is explicitly not this package's job; the pipeline emits
// outcome events on the bus and keeps no database of them.
package storage
