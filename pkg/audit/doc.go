// Package audit decides which collections are audited and exports history
// rows for offline analysis.
//
// # Policy
//
// A Policy enables auditing globally and lets individual collections opt in
// or out:
//
//	enabled: true
//	history_suffix: _history
//	collections:
//	  sessions: false
//	  orders: true
//
// History collections themselves are never audited. LoadPolicyFile reads a
// policy from YAML and WatchPolicyFile reloads it whenever the file changes.
//
// # Export
//
// Export renders history rows as JSON, NDJSON or CSV. JSON and NDJSON use
// canonical Extended JSON so ObjectIDs, dates and number widths survive a
// round trip; CSV flattens the reserved fields into leading columns.
package audit
