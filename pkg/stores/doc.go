// Package stores persists reconciliation history in an embedded SQLite
// database.
//
// Each run is written once, after the engine finishes: a summary row in
// runs (with the full run serialized as JSON in the detail column) plus
// one run_results row per reconciled group or instance spec, so resource
// history can be queried without unpacking every run. Drift checks append
// to drift_events.
//
// The schema is managed with embedded golang-migrate migrations; Migrate
// is safe to call on every startup. The database runs in WAL mode with
// foreign keys on, and run_results rows cascade when a run is deleted.
package stores
