package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/roach88/skyfeed/internal/metrics"
	"github.com/roach88/skyfeed/internal/repo"
	"github.com/roach88/skyfeed/internal/store"
)

// ArchiveThreshold is how old a post's createdAt may be before the archive
// rule rejects it.
const ArchiveThreshold = 24 * time.Hour

// Options selects the rules a Pipeline applies. A nil Predicate rejects
// every post that reaches it.
type Options struct {
	IgnoreArchivedPosts bool
	IgnoreReplyPosts    bool
	Predicate           Predicate
}

// Ledger is the write side of the post store.
type Ledger interface {
	InsertPosts(ctx context.Context, posts []store.Post) (int64, error)
	DeletePosts(ctx context.Context, uris []string) (int64, error)
}

// Result is what one commit changes in the ledger.
type Result struct {
	Insert   []store.Post
	Delete   []string
	Rejected []Rejection
}

// Rejection records a created record that was kept out of the feed.
type Rejection struct {
	URI    string
	Reason string
}

// Pipeline turns decoded operations into ledger writes.
//
// Rules run in order and the first rejection wins: archive, reply, then
// the predicate. Deletes are never filtered.
type Pipeline struct {
	opts    Options
	ledger  Ledger
	clock   clock.Clock
	metrics *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock the archive rule measures age against.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithMetrics records accept, reject and delete counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a Pipeline writing to ledger.
func New(ledger Ledger, opts Options, popts ...Option) *Pipeline {
	p := &Pipeline{
		opts:   opts,
		ledger: ledger,
		clock:  clock.WallClock,
	}
	for _, opt := range popts {
		opt(p)
	}
	return p
}

// Accept reports whether a created post passes every rule.
func (p *Pipeline) Accept(ctx context.Context, created repo.Created) bool {
	return p.evaluate(ctx, created) == ""
}

// Apply decides the ledger changes for one commit's operations without
// writing them.
func (p *Pipeline) Apply(ctx context.Context, ops repo.Ops) Result {
	posts := ops.For(repo.CollectionPost)

	var res Result
	for _, created := range posts.Created {
		if reason := p.evaluate(ctx, created); reason != "" {
			p.metrics.PostRejected(reason)
			res.Rejected = append(res.Rejected, Rejection{URI: created.URI, Reason: reason})
			continue
		}
		p.metrics.PostAccepted()
		res.Insert = append(res.Insert, ledgerRow(created))
	}
	for _, deleted := range posts.Deleted {
		res.Delete = append(res.Delete, deleted.URI)
	}
	return res
}

// Handle applies one commit's operations to the ledger: deletes first,
// then inserts, each as its own transaction. A failed delete does not
// stop the inserts; both errors are returned.
func (p *Pipeline) Handle(ctx context.Context, ops repo.Ops) error {
	_, err := p.HandleResult(ctx, ops)
	return err
}

// HandleResult is Handle, also returning the decisions it applied.
func (p *Pipeline) HandleResult(ctx context.Context, ops repo.Ops) (Result, error) {
	res := p.Apply(ctx, ops)

	var errs []error
	if len(res.Delete) > 0 {
		n, err := p.ledger.DeletePosts(ctx, res.Delete)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %d posts: %w", len(res.Delete), err))
		} else {
			p.metrics.PostsDeleted(n)
			slog.Debug("deleted from feed", "requested", len(res.Delete), "removed", n)
		}
	}

	if len(res.Insert) > 0 {
		n, err := p.ledger.InsertPosts(ctx, res.Insert)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert %d posts: %w", len(res.Insert), err))
		} else {
			p.metrics.PostsInserted(n)
			for _, post := range res.Insert {
				slog.Info("added to feed", "uri", post.URI)
			}
		}
	}

	return res, errors.Join(errs...)
}

// evaluate returns the rejection reason for created, or "" if accepted.
func (p *Pipeline) evaluate(ctx context.Context, created repo.Created) string {
	post := created.Post()
	if post == nil {
		return metrics.ReasonPredicate
	}

	if p.opts.IgnoreArchivedPosts && p.archived(post) {
		slog.Debug("ignoring archived post", "uri", created.URI, "created_at", post.CreatedAt)
		return metrics.ReasonArchived
	}

	if p.opts.IgnoreReplyPosts && post.IsReply() {
		slog.Debug("ignoring reply post", "uri", created.URI)
		return metrics.ReasonReply
	}

	if p.opts.Predicate == nil {
		slog.Debug("no predicate configured, post not added", "uri", created.URI)
		return metrics.ReasonNoPredicate
	}

	ok, err := p.include(post, created.Candidate)
	if err != nil {
		slog.Error("predicate failed", "uri", created.URI, "error", err)
		return metrics.ReasonPredicateError
	}
	if !ok {
		slog.DebugContext(ctx, "excluded by predicate", "uri", created.URI)
		return metrics.ReasonPredicate
	}
	return ""
}

// archived reports whether post is older than ArchiveThreshold. A
// createdAt that does not parse counts as archived.
func (p *Pipeline) archived(post *repo.Post) bool {
	created, err := post.CreatedTime()
	if err != nil {
		return true
	}
	return p.clock.Now().Sub(created) > ArchiveThreshold
}

// include runs the predicate, turning a panic into an error.
func (p *Pipeline) include(post *repo.Post, c repo.Candidate) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return p.opts.Predicate.Include(post, c)
}

func ledgerRow(created repo.Created) store.Post {
	row := store.Post{
		URI: created.URI,
		CID: created.CID,
	}
	if post := created.Post(); post != nil && post.Reply != nil {
		row.ReplyParent = post.Reply.Parent.URI
		row.ReplyRoot = post.Reply.Root.URI
	}
	return row
}
