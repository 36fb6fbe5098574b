// Package harness runs tag pairing scenarios against the tagging service
// and records the engine commands they produce.
//
// Each scenario runs on a fresh in-memory SQLite store paired with
// MemoryEngine, an in-process engine that keeps pairing sets in roaring
// bitmaps and records every command with the payload the perftags client
// would have written to the input exchange file.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: toggle_twice
//	description: "Toggling a pair twice leaves it absent"
//	steps:
//	  - op: toggle
//	    pairings:
//	      - tag: 3
//	        taggables: [7]
//	  - op: read
//	    taggables: [7]
//	    expect:
//	      7: [3]
//	  - op: insert
//	    pairings:
//	      - tag: 4
//	        taggables: [7]
//	    silence: [insert_tag_pairings]
//	    expect_error: engine_timeout
//	assertions:
//	  - type: trace_count
//	    command: begin_transaction
//	    count: 2
//	  - type: final_tags
//	    taggable: 7
//	    tags: [3, 4]
//
// Step ops are insert, toggle, delete, delete_tags (with tags),
// delete_taggables (with taggables), read, flush and purge. silence lists
// engine commands that go unanswered during that step; the engine still
// applies them, as a real engine keeps working after the client gives up.
//
// # Assertion Types
//
//   - trace_contains: a command appears, optionally with an exact hex payload
//   - trace_order: commands appear in the given order (gaps allowed)
//   - trace_count: a command appears exactly count times
//   - final_tags: the engine's final tags for a taggable
//   - history_count: the number of recorded changes for a taggable
//
// Traces are numbered with a deterministic sequence so they can be compared
// against golden files with RunWithGolden.
package harness
