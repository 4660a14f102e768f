// Package store provides SQLite-backed storage for the feed ledger and the
// firehose checkpoint.
//
// Two tables:
//   - posts: accepted posts, unique by URI, served newest first
//   - subscription_state: last checkpointed stream cursor per service
//
// # Write discipline
//
// Every logical write runs in its own transaction. A batch of inserts or
// deletes commits entirely or not at all. Inserting a URI that already
// exists is a no-op, so replaying a stream segment after a reconnect never
// fails or duplicates rows.
//
// # Ordering
//
// Feed reads order by indexed_at DESC, cid DESC. indexed_at is epoch
// milliseconds, and cid breaks ties between posts indexed in the same
// millisecond, so the order is total and stable across pages.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
