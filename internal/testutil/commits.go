package testutil

import (
	"github.com/roach88/skyfeed/internal/repo"
)

// TestRepo is the DID used by commit fixtures.
const TestRepo = "did:plc:testrepo"

// PostCommit builds a commit creating one post with rkey and text, created
// at Epoch.
func PostCommit(seq int64, rkey, text string) *repo.CommitEvent {
	return repo.NewCommitBuilder(seq, TestRepo).
		Create(repo.CollectionPost+"/"+rkey, &repo.Post{
			Text:      text,
			CreatedAt: Timestamp(Epoch),
		}).
		MustBuild()
}

// EmptyCommit builds a commit with no operations and no blocks.
func EmptyCommit(seq int64) *repo.CommitEvent {
	return repo.NewCommitBuilder(seq, TestRepo).MustBuild()
}

// PostURI returns the URI PostCommit gives the post with rkey.
func PostURI(rkey string) string {
	return repo.ATURI{Authority: TestRepo, Collection: repo.CollectionPost, RKey: rkey}.String()
}
