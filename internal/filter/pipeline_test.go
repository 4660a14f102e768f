package filter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skyfeed/internal/metrics"
	"github.com/roach88/skyfeed/internal/repo"
	"github.com/roach88/skyfeed/internal/store"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const author = "did:plc:alice"

func recentPost(text string) *repo.Post {
	return &repo.Post{Text: text, CreatedAt: now.Add(-time.Minute).Format(time.RFC3339)}
}

func decode(t *testing.T, b *repo.CommitBuilder) repo.Ops {
	t.Helper()
	commit, err := b.Build()
	require.NoError(t, err)
	ops, skipped := repo.Decode(commit)
	require.Empty(t, skipped)
	return ops
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "feed.db"), store.WithClock(testclock.NewClock(now)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func uris(t *testing.T, s *store.Store) []string {
	t.Helper()
	posts, err := s.LatestPosts(context.Background(), 100, nil)
	require.NoError(t, err)
	var out []string
	for _, p := range posts {
		out = append(out, p.URI)
	}
	return out
}

type failingLedger struct {
	insertErr, deleteErr error
	inserted             []store.Post
	deleted              []string
}

func (l *failingLedger) InsertPosts(_ context.Context, posts []store.Post) (int64, error) {
	if l.insertErr != nil {
		return 0, l.insertErr
	}
	l.inserted = append(l.inserted, posts...)
	return int64(len(posts)), nil
}

func (l *failingLedger) DeletePosts(_ context.Context, uris []string) (int64, error) {
	if l.deleteErr != nil {
		return 0, l.deleteErr
	}
	l.deleted = append(l.deleted, uris...)
	return int64(len(uris)), nil
}

// rejected reads the rejection counter for reason from m's registry.
func rejected(t *testing.T, m *metrics.Metrics, reason string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "skyfeed_posts_rejected_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "reason" && label.GetValue() == reason {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func newPipeline(ledger Ledger, opts Options) (*Pipeline, *metrics.Metrics) {
	m := metrics.New()
	return New(ledger, opts, WithClock(testclock.NewClock(now)), WithMetrics(m)), m
}

func TestHandle_AlternatingCaseEndToEnd(t *testing.T) {
	s := openStore(t)
	p, _ := newPipeline(s, Options{Predicate: AlternatingCase{}})
	ctx := context.Background()

	ops := decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/yes", recentPost("aBcDeFg")).
		Create("app.bsky.feed.post/no", recentPost("abcdefg")))
	require.NoError(t, p.Handle(ctx, ops))

	assert.Equal(t, []string{"at://did:plc:alice/app.bsky.feed.post/yes"}, uris(t, s))
}

func TestHandle_DeleteRemovesExactlyThatRow(t *testing.T) {
	s := openStore(t)
	p, _ := newPipeline(s, Options{Predicate: AlternatingCase{}})
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/a", recentPost("aBcDeFg")).
		Create("app.bsky.feed.post/b", recentPost("hElLoWoRlD")))))
	require.Len(t, uris(t, s), 2)

	require.NoError(t, p.Handle(ctx, decode(t, repo.NewCommitBuilder(2, author).
		Delete("app.bsky.feed.post/a"))))

	assert.Equal(t, []string{"at://did:plc:alice/app.bsky.feed.post/b"}, uris(t, s))
}

func TestHandle_DeletesAreNeverFiltered(t *testing.T) {
	ledger := &failingLedger{}
	// Every rule on and no predicate: nothing is inserted, deletes still go through.
	p, _ := newPipeline(ledger, Options{IgnoreArchivedPosts: true, IgnoreReplyPosts: true})

	require.NoError(t, p.Handle(context.Background(), decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/new", recentPost("aBcDeFg")).
		Delete("app.bsky.feed.post/old"))))

	assert.Empty(t, ledger.inserted)
	assert.Equal(t, []string{"at://did:plc:alice/app.bsky.feed.post/old"}, ledger.deleted)
}

func TestApply_ArchiveRule(t *testing.T) {
	p, m := newPipeline(&failingLedger{}, Options{IgnoreArchivedPosts: true, Predicate: AlternatingCase{}})

	old := &repo.Post{Text: "aBcDeFg", CreatedAt: now.Add(-ArchiveThreshold - time.Second).Format(time.RFC3339)}
	edge := &repo.Post{Text: "aBcDeFg", CreatedAt: now.Add(-ArchiveThreshold).Format(time.RFC3339)}
	bad := &repo.Post{Text: "aBcDeFg", CreatedAt: "not a date"}

	res := p.Apply(context.Background(), decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/old", old).
		Create("app.bsky.feed.post/edge", edge).
		Create("app.bsky.feed.post/bad", bad)))

	require.Len(t, res.Insert, 1)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/edge", res.Insert[0].URI)
	assert.Equal(t, 2.0, rejected(t, m, metrics.ReasonArchived))
}

func TestApply_ArchiveRuleDisabled(t *testing.T) {
	p, _ := newPipeline(&failingLedger{}, Options{Predicate: AlternatingCase{}})

	old := &repo.Post{Text: "aBcDeFg", CreatedAt: "2001-01-01T00:00:00Z"}
	res := p.Apply(context.Background(), decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/old", old)))
	assert.Len(t, res.Insert, 1)
}

func TestApply_ReplyRule(t *testing.T) {
	reply := recentPost("aBcDeFg")
	reply.Reply = &repo.ReplyRef{
		Root:   repo.StrongRef{URI: "at://did:plc:bob/app.bsky.feed.post/root"},
		Parent: repo.StrongRef{URI: "at://did:plc:bob/app.bsky.feed.post/parent"},
	}
	ops := decode(t, repo.NewCommitBuilder(1, author).Create("app.bsky.feed.post/r", reply))

	p, _ := newPipeline(&failingLedger{}, Options{IgnoreReplyPosts: true, Predicate: AlternatingCase{}})
	assert.Empty(t, p.Apply(context.Background(), ops).Insert)

	p, _ = newPipeline(&failingLedger{}, Options{Predicate: AlternatingCase{}})
	res := p.Apply(context.Background(), ops)
	require.Len(t, res.Insert, 1)
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.post/parent", res.Insert[0].ReplyParent)
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.post/root", res.Insert[0].ReplyRoot)
}

func TestApply_NoPredicateRejectsAll(t *testing.T) {
	p, _ := newPipeline(&failingLedger{}, Options{})

	res := p.Apply(context.Background(), decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/a", recentPost("aBcDeFg"))))
	assert.Empty(t, res.Insert)
}

func TestApply_PredicateErrorAndPanicReject(t *testing.T) {
	calls := 0
	pred := Func(func(post *repo.Post, c repo.Candidate) (bool, error) {
		calls++
		switch post.Text {
		case "boom":
			panic("predicate exploded")
		case "err":
			return false, errors.New("broken predicate")
		}
		return true, nil
	})
	p, _ := newPipeline(&failingLedger{}, Options{Predicate: pred})

	res := p.Apply(context.Background(), decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/1", recentPost("boom")).
		Create("app.bsky.feed.post/2", recentPost("err")).
		Create("app.bsky.feed.post/3", recentPost("fine"))))

	assert.Equal(t, 3, calls, "batch continues after failures")
	require.Len(t, res.Insert, 1)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3", res.Insert[0].URI)
}

func TestHandle_AlwaysErroringPredicateInsertsNothing(t *testing.T) {
	s := openStore(t)
	pred := Func(func(*repo.Post, repo.Candidate) (bool, error) {
		return false, errors.New("always fails")
	})
	p, _ := newPipeline(s, Options{Predicate: pred})
	ctx := context.Background()

	for seq := int64(1); seq <= 5; seq++ {
		err := p.Handle(ctx, decode(t, repo.NewCommitBuilder(seq, author).
			Create(fmt.Sprintf("app.bsky.feed.post/p%d", seq), recentPost("aBcDeFg"))))
		require.NoError(t, err)
	}

	n, err := s.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAccept(t *testing.T) {
	p, _ := newPipeline(&failingLedger{}, Options{Predicate: AlternatingCase{}})
	ops := decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/a", recentPost("aBcDeFg")).
		Create("app.bsky.feed.like/l", &repo.Like{Subject: repo.StrongRef{URI: "at://x/app.bsky.feed.post/y"}, CreatedAt: "2024-05-01T12:00:00Z"}))

	assert.True(t, p.Accept(context.Background(), ops.For(repo.CollectionPost).Created[0]))
	assert.False(t, p.Accept(context.Background(), ops.For(repo.CollectionLike).Created[0]))
}

func TestHandle_LedgerErrorsAreJoined(t *testing.T) {
	ledger := &failingLedger{insertErr: errors.New("disk full"), deleteErr: errors.New("locked")}
	p, _ := newPipeline(ledger, Options{Predicate: AlternatingCase{}})

	err := p.Handle(context.Background(), decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/a", recentPost("aBcDeFg")).
		Delete("app.bsky.feed.post/b")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "locked")
}

func TestHandleResult_RecordsDecisions(t *testing.T) {
	s := openStore(t)
	p, _ := newPipeline(s, Options{IgnoreReplyPosts: true, Predicate: AlternatingCase{}})

	reply := recentPost("aBcDeFg")
	reply.Reply = &repo.ReplyRef{
		Root:   repo.StrongRef{URI: "at://did:plc:bob/app.bsky.feed.post/root"},
		Parent: repo.StrongRef{URI: "at://did:plc:bob/app.bsky.feed.post/root"},
	}
	ops := decode(t, repo.NewCommitBuilder(1, author).
		Create("app.bsky.feed.post/keep", recentPost("aBcDeFg")).
		Create("app.bsky.feed.post/plain", recentPost("abcdefg")).
		Create("app.bsky.feed.post/reply", reply).
		Delete("app.bsky.feed.post/gone"))

	res, err := p.HandleResult(context.Background(), ops)
	require.NoError(t, err)

	require.Len(t, res.Insert, 1)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/keep", res.Insert[0].URI)
	assert.Equal(t, []string{"at://did:plc:alice/app.bsky.feed.post/gone"}, res.Delete)
	assert.ElementsMatch(t, []Rejection{
		{URI: "at://did:plc:alice/app.bsky.feed.post/plain", Reason: metrics.ReasonPredicate},
		{URI: "at://did:plc:alice/app.bsky.feed.post/reply", Reason: metrics.ReasonReply},
	}, res.Rejected)
}
