// Package harness runs scripted firehose scenarios through the real
// decoder, filter pipeline and ledger.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	filter:
//	  predicate: alternating-case
//	  ignore_archived_posts: true
//	commits:
//	  - seq: 1
//	    create:
//	      - rkey: p1
//	        text: "aBcDeFg"
//	  - seq: 2
//	    advance: 1ms
//	    delete:
//	      - rkey: p1
//	assertions:
//	  - type: ledger_excludes
//	    post: p1
//
// Commits are encoded exactly as the relay sends them: records become
// DAG-CBOR blocks inside a CAR archive, so every run also exercises the
// decoder.
//
// # Assertion Types
//
//   - ledger_contains: the post is in the ledger
//   - ledger_excludes: the post is not in the ledger
//   - ledger_count: the ledger holds exactly N rows
//   - feed_order: the first feed page lists posts in the given order
//
// # Deterministic Testing
//
// Each scenario runs against a fresh in-memory SQLite database with a
// manual clock starting at testutil.Epoch. The clock only moves when a
// commit sets advance, so ledger timestamps and archive decisions are
// identical across runs and golden snapshots compare byte for byte.
package harness
