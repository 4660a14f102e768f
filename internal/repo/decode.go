package repo

import (
	"errors"
	"fmt"

	"github.com/roach88/skyfeed/internal/car"
)

var (
	// ErrMissingCID is returned for create operations without a CID.
	ErrMissingCID = errors.New("create without cid")

	// ErrMissingBlock is returned when a create's CID is absent from the
	// commit's block store.
	ErrMissingBlock = errors.New("block not in commit")

	// ErrCollectionMismatch is returned when a record's $type differs from
	// the collection in its path.
	ErrCollectionMismatch = errors.New("record type does not match collection")

	// ErrUnknownAction is returned for operations other than create, update
	// and delete.
	ErrUnknownAction = errors.New("unknown operation action")
)

// OpError describes one operation Decode skipped.
type OpError struct {
	Seq    int64
	Action string
	Path   string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("seq %d %s %s: %v", e.Seq, e.Action, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Decode turns a commit into operations grouped by collection.
//
// Updates are dropped. Deletes are kept for every collection. Creates are
// kept only when the record block is present, hashes to its CID, decodes,
// and is a post, like or follow whose $type matches the path's collection.
// A failure on one operation never stops the others; each skipped operation
// is reported in the returned error slice. A block archive that fails to
// parse is reported once and treated as empty, so deletes still apply.
func Decode(commit *CommitEvent) (Ops, []error) {
	ops := make(Ops)
	var skipped []error

	blocks := car.Blocks{}
	if len(commit.Blocks) > 0 {
		parsed, _, err := car.Read(commit.Blocks)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("seq %d: block store: %w", commit.Seq, err))
		} else {
			blocks = parsed
		}
	}

	for _, op := range commit.Ops {
		var err error
		switch op.Action {
		case ActionUpdate:
			continue
		case ActionDelete:
			err = decodeDelete(ops, commit.Repo, op)
		case ActionCreate:
			err = decodeCreate(ops, commit.Repo, op, blocks)
		default:
			err = fmt.Errorf("%q: %w", op.Action, ErrUnknownAction)
		}
		if err != nil {
			skipped = append(skipped, &OpError{Seq: commit.Seq, Action: op.Action, Path: op.Path, Err: err})
		}
	}

	return ops, skipped
}

func decodeDelete(ops Ops, repo string, op RepoOp) error {
	uri, err := RecordURI(repo, op.Path)
	if err != nil {
		return err
	}
	co := ops.collection(uri.Collection)
	co.Deleted = append(co.Deleted, Deleted{URI: uri.String()})
	return nil
}

func decodeCreate(ops Ops, repo string, op RepoOp, blocks car.Blocks) error {
	if op.CID == nil || !op.CID.CID.Defined() {
		return ErrMissingCID
	}
	uri, err := RecordURI(repo, op.Path)
	if err != nil {
		return err
	}

	c := op.CID.CID
	data, ok := blocks.Get(c)
	if !ok {
		return fmt.Errorf("%s: %w", c, ErrMissingBlock)
	}
	if err := car.Verify(c, data); err != nil {
		return err
	}

	recordType, rec, err := DecodeRecord(data)
	if err != nil {
		return err
	}
	if recordType != uri.Collection {
		return fmt.Errorf("%s in %s: %w", recordType, uri.Collection, ErrCollectionMismatch)
	}

	co := ops.collection(uri.Collection)
	co.Created = append(co.Created, Created{
		Candidate: Candidate{
			URI:    uri.String(),
			CID:    c.String(),
			Author: repo,
		},
		Collection: uri.Collection,
		Record:     rec,
	})
	return nil
}
