// Package repo models the repository-change events emitted by the relay and
// turns them into typed operations.
//
// A CommitEvent carries a sequence number, the repository owner (a DID), the
// changed blocks as a CAR archive, and a list of path-level operations. Decode
// resolves each create against the commit's block store, decodes the record
// and groups the result by collection NSID so the filter pipeline only looks
// at the collection it cares about.
//
// This package imports nothing internal except codec and car.
package repo
