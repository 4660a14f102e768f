// Package engine supervises the relay subscription that feeds the ledger.
//
// ARCHITECTURE:
//
// Single consumer loop:
// Commits are read and processed one at a time in the Run goroutine. This
// keeps ledger writes ordered by stream sequence and makes checkpoints
// meaningful: every commit before a checkpoint has been handed to the
// handler.
//
// Per-commit flow:
//  1. Read the next commit from the subscription
//  2. If seq is a multiple of CheckpointInterval, persist seq as the cursor
//  3. Skip commits without blocks
//  4. Decode operations and pass them to the Handler (the filter pipeline)
//
// FAULT HANDLING:
//
// Failures inside a commit, including panics, are logged with the seq and
// repo and the loop continues. Transport faults (dial errors, read errors,
// relay error frames, malformed frames) end the session; the engine waits
// the reconnect delay and resubscribes from the last checkpointed cursor.
// Only cancelling Run's context stops the engine.
package engine
