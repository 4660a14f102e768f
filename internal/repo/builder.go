package repo

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/roach88/skyfeed/internal/car"
	"github.com/roach88/skyfeed/internal/codec"
)

// commitNode is the signed commit object at the root of every archive.
// Only the fields needed to give the root block a stable identity are kept.
type commitNode struct {
	DID     string `cbor:"did"`
	Rev     string `cbor:"rev"`
	Version int64  `cbor:"version"`
}

// CommitBuilder assembles CommitEvents with real CAR-encoded blocks. The
// scenario harness and tests use it to produce the same bytes the relay
// would send.
type CommitBuilder struct {
	seq    int64
	repo   string
	rev    string
	blocks []car.Block
	ops    []RepoOp
	err    error
}

// NewCommitBuilder starts a commit for repo at sequence number seq.
func NewCommitBuilder(seq int64, repo string) *CommitBuilder {
	return &CommitBuilder{seq: seq, repo: repo, rev: fmt.Sprintf("rev%d", seq)}
}

// Create adds a create operation whose block holds rec.
func (b *CommitBuilder) Create(path string, rec any) *CommitBuilder {
	return b.withRecord(ActionCreate, path, rec)
}

// Update adds an update operation whose block holds rec.
func (b *CommitBuilder) Update(path string, rec any) *CommitBuilder {
	return b.withRecord(ActionUpdate, path, rec)
}

// CreateRaw adds a create operation whose block holds data verbatim.
func (b *CommitBuilder) CreateRaw(path string, data []byte) *CommitBuilder {
	if b.err != nil {
		return b
	}
	blk, err := car.NewBlock(data)
	if err != nil {
		b.err = err
		return b
	}
	b.blocks = append(b.blocks, blk)
	link := codec.NewLink(blk.CID)
	b.ops = append(b.ops, RepoOp{Action: ActionCreate, Path: path, CID: &link})
	return b
}

// CreateMissing adds a create operation pointing at a CID whose block is
// not included in the archive.
func (b *CommitBuilder) CreateMissing(path string, c gocid.Cid) *CommitBuilder {
	link := codec.NewLink(c)
	b.ops = append(b.ops, RepoOp{Action: ActionCreate, Path: path, CID: &link})
	return b
}

// Delete adds a delete operation.
func (b *CommitBuilder) Delete(path string) *CommitBuilder {
	b.ops = append(b.ops, RepoOp{Action: ActionDelete, Path: path})
	return b
}

func (b *CommitBuilder) withRecord(action, path string, rec any) *CommitBuilder {
	if b.err != nil {
		return b
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		b.err = fmt.Errorf("%s %s: %w", action, path, err)
		return b
	}
	blk, err := car.NewBlock(data)
	if err != nil {
		b.err = err
		return b
	}
	b.blocks = append(b.blocks, blk)
	link := codec.NewLink(blk.CID)
	b.ops = append(b.ops, RepoOp{Action: action, Path: path, CID: &link})
	return b
}

// Build encodes the archive and returns the event. A commit with no
// operations has no blocks, like the relay's empty commits.
func (b *CommitBuilder) Build() (*CommitEvent, error) {
	if b.err != nil {
		return nil, b.err
	}
	evt := &CommitEvent{
		Seq:  b.seq,
		Repo: b.repo,
		Rev:  b.rev,
		Ops:  b.ops,
	}
	if len(b.ops) == 0 {
		return evt, nil
	}

	nodeBytes, err := codec.Marshal(commitNode{DID: b.repo, Rev: b.rev, Version: 3})
	if err != nil {
		return nil, fmt.Errorf("encode commit node: %w", err)
	}
	root, err := car.NewBlock(nodeBytes)
	if err != nil {
		return nil, err
	}

	blocks := append([]car.Block{root}, b.blocks...)
	data, err := car.Encode([]gocid.Cid{root.CID}, blocks)
	if err != nil {
		return nil, fmt.Errorf("encode archive: %w", err)
	}
	link := codec.NewLink(root.CID)
	evt.Blocks = data
	evt.Commit = &link
	return evt, nil
}

// MustBuild is like Build but panics on error.
// Use only in tests or when inputs are known to be valid.
func (b *CommitBuilder) MustBuild() *CommitEvent {
	evt, err := b.Build()
	if err != nil {
		panic(err)
	}
	return evt
}
