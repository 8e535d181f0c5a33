// Package harness provides conformance testing for the update daemon.
//
// A scenario scripts the outside world (the sequence of fetch results,
// dependency sync failures, and per-service health behavior) and runs
// the real scheduler, service set, and run log against it. The run log
// transcript the daemon would have written is then compared against
// expectations and golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	services:
//	  - name: web-server
//	    order: 1
//	    criticality: required
//	    retries: 3
//	  - name: tunnel
//	    order: 2
//	    criticality: optional
//	    healthy_after: -1
//	    unhealthy_reason: "tunnel down"
//	cycles:
//	  - old: aaa111
//	    new: aaa111
//	  - old: aaa111
//	    new: bbb222
//	  - fetch_error: "could not resolve host"
//	expect:
//	  - action: no-op
//	    outcome: success
//	  - action: updated
//	    outcome: partial-failure
//	    services:
//	      web-server: ok
//	      tunnel: failed
//	  - action: no-op
//	    outcome: hard-failure
//	    stage: fetch
//
// Each entry in cycles is one scheduler pass. The optional expect list
// must, when present, describe every cycle in order.
//
// # Deterministic Execution
//
// The harness pins every source of nondeterminism:
//
//   - cycle IDs come from a FixedGenerator ("cycle-001", "cycle-002", ...)
//   - the clock is a fake starting at 2026-01-01T00:00:00Z, advanced
//     one second before each cycle
//   - health-poll backoff is zero, so polls run back to back
//   - the SQLite store and JSONL file live in a fresh temp directory
//
// This makes the JSONL transcript byte-stable across runs, which is what
// the golden files under testdata/golden assert.
package harness
