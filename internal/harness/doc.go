// Package harness replays scripted editing sessions and checks that they
// converge.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: hello_world
//	description: "Concurrent inserts at both ends converge"
//	initial: "hello"
//	participants: [A, B]
//	permute: true
//	steps:
//	  - submit: { author: A, kind: insert, position: 5, text: " world", base: 0 }
//	  - submit: { author: B, kind: insert, position: 0, text: "Say: ", base: 0 }
//	expect:
//	  content: "Say: hello world"
//	  version: 2
//
// A step is one of submit, cursor or leave. A submit may carry reject with
// the expected rejection reason. With permute set, both arrival orders of
// a pair of concurrent submits are run against a fresh session and both
// must reach the expected content. Larger concurrent sets are not
// order independent and cannot be permuted.
//
// # Deterministic Testing
//
// Runs use a fake clock and a discarding logger, so the trace of the
// declared order is byte-stable and suitable for golden comparison via
// RunWithGolden.
package harness
