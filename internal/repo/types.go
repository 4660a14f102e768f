package repo

import (
	"github.com/roach88/skyfeed/internal/codec"
)

// Collection NSIDs the decoder understands.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionFollow = "app.bsky.graph.follow"
)

// Operation actions as they appear on the wire.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// CommitEvent is one #commit message from the relay.
type CommitEvent struct {
	Seq    int64       `cbor:"seq"`
	Repo   string      `cbor:"repo"`
	Rev    string      `cbor:"rev,omitempty"`
	Time   string      `cbor:"time,omitempty"`
	TooBig bool        `cbor:"tooBig"`
	Blocks []byte      `cbor:"blocks"`
	Ops    []RepoOp    `cbor:"ops"`
	Commit *codec.Link `cbor:"commit,omitempty"`
}

// RepoOp is a path-level mutation inside a commit. CID is nil for deletes.
type RepoOp struct {
	Action string      `cbor:"action"`
	Path   string      `cbor:"path"`
	CID    *codec.Link `cbor:"cid"`
}

// Candidate identifies a created record independent of its content.
type Candidate struct {
	URI    string
	CID    string
	Author string
}

// Created is a decoded create operation. Record is one of *Post, *Like or
// *Follow, matching Collection.
type Created struct {
	Candidate
	Collection string
	Record     any
}

// Post returns the record as a post, or nil for other collections.
func (c Created) Post() *Post {
	p, _ := c.Record.(*Post)
	return p
}

// Deleted is a delete operation.
type Deleted struct {
	URI string
}

// CollectionOps groups one collection's operations from a single commit.
type CollectionOps struct {
	Created []Created
	Deleted []Deleted
}

// Ops groups a commit's operations by collection NSID.
type Ops map[string]*CollectionOps

// For returns the operations for collection, never nil.
func (o Ops) For(collection string) *CollectionOps {
	if co, ok := o[collection]; ok {
		return co
	}
	return &CollectionOps{}
}

func (o Ops) collection(name string) *CollectionOps {
	co, ok := o[name]
	if !ok {
		co = &CollectionOps{}
		o[name] = co
	}
	return co
}
