package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Post is one ledger row.
type Post struct {
	URI         string
	CID         string
	ReplyParent string // empty when the post is not a reply
	ReplyRoot   string
	IndexedAt   time.Time
}

// FeedCursor is a position in feed order. IndexedAt is epoch milliseconds.
type FeedCursor struct {
	IndexedAt int64
	CID       string
}

// InsertPosts inserts posts in one transaction and returns how many rows
// were actually added. A URI that is already present is skipped, not an
// error. Posts with a zero IndexedAt are stamped with the store clock.
// Any other failure rolls back the whole batch.
func (s *Store) InsertPosts(ctx context.Context, posts []Post) (int64, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert posts: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (uri, cid, reply_parent, reply_root, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("insert posts: prepare: %w", err)
	}
	defer stmt.Close()

	now := s.clock.Now().UnixMilli()
	var inserted int64
	for _, p := range posts {
		indexedAt := now
		if !p.IndexedAt.IsZero() {
			indexedAt = p.IndexedAt.UnixMilli()
		}
		res, err := stmt.ExecContext(ctx,
			p.URI,
			p.CID,
			nullString(p.ReplyParent),
			nullString(p.ReplyRoot),
			indexedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert post %s: %w", p.URI, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert post %s: rows affected: %w", p.URI, err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert posts: commit: %w", err)
	}
	return inserted, nil
}

// DeletePosts removes the posts with the given URIs in one transaction and
// returns how many rows were removed. Unknown URIs are ignored.
func (s *Store) DeletePosts(ctx context.Context, uris []string) (int64, error) {
	if len(uris) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete posts: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM posts WHERE uri = ?`)
	if err != nil {
		return 0, fmt.Errorf("delete posts: prepare: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, uri := range uris {
		res, err := stmt.ExecContext(ctx, uri)
		if err != nil {
			return 0, fmt.Errorf("delete post %s: %w", uri, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete post %s: rows affected: %w", uri, err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete posts: commit: %w", err)
	}
	return deleted, nil
}

// LatestPosts returns up to limit posts in feed order, newest first. It
// reads from the read-only pool and sees only committed rows.
// With a non-nil after, only posts strictly after that position are
// returned: same millisecond with a smaller cid, or an earlier millisecond.
func (s *Store) LatestPosts(ctx context.Context, limit int, after *FeedCursor) ([]Post, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.read.QueryContext(ctx, `
			SELECT uri, cid, reply_parent, reply_root, indexed_at
			FROM posts
			ORDER BY indexed_at DESC, cid DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = s.read.QueryContext(ctx, `
			SELECT uri, cid, reply_parent, reply_root, indexed_at
			FROM posts
			WHERE (indexed_at = ? AND cid < ?) OR indexed_at < ?
			ORDER BY indexed_at DESC, cid DESC
			LIMIT ?
		`, after.IndexedAt, after.CID, after.IndexedAt, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var (
			p             Post
			parent, root  sql.NullString
			indexedAtMsec int64
		)
		if err := rows.Scan(&p.URI, &p.CID, &parent, &root, &indexedAtMsec); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.ReplyParent = parent.String
		p.ReplyRoot = root.String
		p.IndexedAt = time.UnixMilli(indexedAtMsec).UTC()
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, nil
}

// CountPosts returns the number of rows in the ledger.
func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
