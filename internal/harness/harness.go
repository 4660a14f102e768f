package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/roach88/skyfeed/internal/filter"
	"github.com/roach88/skyfeed/internal/repo"
	"github.com/roach88/skyfeed/internal/store"
	"github.com/roach88/skyfeed/internal/testutil"
)

// Harness holds the per-scenario state: a fresh ledger and a clock that
// only moves when a commit asks it to.
type Harness struct {
	store    *store.Store
	pipeline *filter.Pipeline
	clock    *testclock.Clock
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with the clock at
// testutil.Epoch, so repeated runs produce identical traces and ledger
// timestamps.
//
// Execution flow:
//  1. Create fresh in-memory database and pipeline
//  2. For each commit: advance the clock, build a CAR-encoded commit,
//     decode it and hand it to the pipeline
//  3. Snapshot the ledger in feed order
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	clk := testutil.NewClock()

	st, err := store.Open(":memory:", store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	pred, err := filter.Select(scenario.Filter.Predicate, scenario.Filter.Expression, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to build predicate: %w", err)
	}
	opts := filter.Options{
		IgnoreArchivedPosts: scenario.Filter.IgnoreArchivedPosts,
		IgnoreReplyPosts:    scenario.Filter.IgnoreReplyPosts,
		Predicate:           pred,
	}

	h := &Harness{
		store:    st,
		pipeline: filter.New(st, opts, filter.WithClock(clk)),
		clock:    clk,
	}

	ctx := context.Background()
	result := NewResult()

	for _, step := range scenario.Commits {
		if err := h.executeCommit(ctx, step, result); err != nil {
			return nil, fmt.Errorf("commit seq=%d: %w", step.Seq, err)
		}
	}

	if err := h.snapshotLedger(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range evaluateAssertions(ctx, scenario, h, result) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeCommit(ctx context.Context, step CommitStep, result *Result) error {
	h.clock.Advance(step.Advance)

	evt, err := buildCommit(step, h.clock.Now())
	if err != nil {
		return fmt.Errorf("build commit: %w", err)
	}

	ops, skipped := repo.Decode(evt)
	for _, s := range skipped {
		result.addTrace(step.Seq, ActionSkip, "", s.Error())
	}

	res, err := h.pipeline.HandleResult(ctx, ops)
	if err != nil {
		return err
	}
	for _, uri := range res.Delete {
		result.addTrace(step.Seq, ActionDelete, uri, "")
	}
	for _, p := range res.Insert {
		result.addTrace(step.Seq, ActionInsert, p.URI, "")
	}
	for _, r := range res.Rejected {
		result.addTrace(step.Seq, ActionReject, r.URI, r.Reason)
	}
	return nil
}

func (h *Harness) snapshotLedger(ctx context.Context, result *Result) error {
	n, err := h.store.CountPosts(ctx)
	if err != nil {
		return fmt.Errorf("count ledger: %w", err)
	}
	if n == 0 {
		return nil
	}
	posts, err := h.store.LatestPosts(ctx, int(n), nil)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	for _, p := range posts {
		result.Ledger = append(result.Ledger, LedgerRow{
			URI:         p.URI,
			ReplyParent: p.ReplyParent,
			IndexedAt:   p.IndexedAt.UnixMilli(),
		})
	}
	return nil
}

// buildCommit turns a step into the CAR-encoded commit the relay would
// send. now stamps records that carry no explicit createdAt.
func buildCommit(step CommitStep, now time.Time) (*repo.CommitEvent, error) {
	b := repo.NewCommitBuilder(step.Seq, step.Repo)

	for _, c := range step.Create {
		createdAt := c.CreatedAt
		if createdAt == "" {
			createdAt = testutil.Timestamp(now.Add(-c.Age))
		}
		path := c.collection() + "/" + c.RKey

		switch c.collection() {
		case repo.CollectionPost:
			post := &repo.Post{
				Text:      c.Text,
				CreatedAt: createdAt,
				Langs:     c.Langs,
				Tags:      c.Tags,
			}
			if c.ReplyTo != "" {
				ref := repo.StrongRef{URI: c.ReplyTo}
				post.Reply = &repo.ReplyRef{Root: ref, Parent: ref}
			}
			b.Create(path, post)
		case repo.CollectionLike:
			b.Create(path, &repo.Like{Subject: repo.StrongRef{URI: c.Subject}, CreatedAt: createdAt})
		case repo.CollectionFollow:
			b.Create(path, &repo.Follow{Subject: c.Subject, CreatedAt: createdAt})
		}
	}

	for _, d := range step.Delete {
		b.Delete(d.collection() + "/" + d.RKey)
	}
	return b.Build()
}
