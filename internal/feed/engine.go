// Package feed serves the post ledger as a paginated feed skeleton.
package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/skyfeed/internal/store"
)

// Page size bounds.
const (
	MinLimit     = 1
	MaxLimit     = 100
	DefaultLimit = 20
)

// ErrInvalidLimit is returned for a page size outside [MinLimit, MaxLimit].
var ErrInvalidLimit = errors.New("invalid limit")

// Item is one feed entry.
type Item struct {
	Post string `json:"post"`
}

// Skeleton is a page of the feed.
type Skeleton struct {
	Cursor string `json:"cursor"`
	Feed   []Item `json:"feed"`
}

// Reader is the read side of the post store.
type Reader interface {
	LatestPosts(ctx context.Context, limit int, after *store.FeedCursor) ([]store.Post, error)
}

// Engine pages through the ledger newest first.
type Engine struct {
	posts Reader
}

// New returns an Engine reading from posts.
func New(posts Reader) *Engine {
	return &Engine{posts: posts}
}

// Page returns up to limit items after cursor. An empty cursor starts at
// the newest post. The returned cursor continues from the last item, or is
// EOF when the page is empty.
func (e *Engine) Page(ctx context.Context, cursor string, limit int) (Skeleton, error) {
	if limit < MinLimit || limit > MaxLimit {
		return Skeleton{}, fmt.Errorf("%d outside [%d, %d]: %w", limit, MinLimit, MaxLimit, ErrInvalidLimit)
	}
	if cursor == EOF {
		return Skeleton{Cursor: EOF, Feed: []Item{}}, nil
	}

	var after *store.FeedCursor
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return Skeleton{}, err
		}
		after = &c
	}

	posts, err := e.posts.LatestPosts(ctx, limit, after)
	if err != nil {
		return Skeleton{}, fmt.Errorf("feed page: %w", err)
	}

	sk := Skeleton{Cursor: EOF, Feed: make([]Item, 0, len(posts))}
	for _, p := range posts {
		sk.Feed = append(sk.Feed, Item{Post: p.URI})
	}
	if len(posts) > 0 {
		sk.Cursor = EncodeCursor(posts[len(posts)-1])
	}
	return sk, nil
}
