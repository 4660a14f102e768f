package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// PostsOptions holds flags for the posts command.
type PostsOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// PostRow is one ledger row as printed by the posts command.
type PostRow struct {
	URI         string `json:"uri"`
	CID         string `json:"cid"`
	ReplyParent string `json:"reply_parent,omitempty"`
	ReplyRoot   string `json:"reply_root,omitempty"`
	IndexedAt   string `json:"indexed_at"`
}

// PostsResult holds the posts command output.
type PostsResult struct {
	Total int64     `json:"total"`
	Posts []PostRow `json:"posts"`
}

func (r PostsResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d posts in ledger\n", r.Total)
	for _, p := range r.Posts {
		fmt.Fprintf(&b, "%s  %s\n", p.IndexedAt, p.URI)
		if p.ReplyParent != "" {
			fmt.Fprintf(&b, "    reply to %s\n", p.ReplyParent)
		}
	}
	return b.String()
}

// NewPostsCommand creates the posts command.
func NewPostsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PostsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List the newest posts in the ledger",
		Long: `List the newest posts in the ledger, in feed order.

Example:
  skyfeed posts --db ./feed_database.db
  skyfeed posts --db ./feed_database.db --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts.RootOptions, cmd)
			return f.Fail(runPosts(opts, f, cmd))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of posts to list")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runPosts(opts *PostsOptions, f *OutputFormatter, cmd *cobra.Command) error {
	if opts.Limit < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("limit must be positive, got %d", opts.Limit))
	}

	st, err := openExisting(f, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	total, err := st.CountPosts(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count posts", err).withKind(KindStore)
	}
	posts, err := st.LatestPosts(ctx, opts.Limit, nil)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list posts", err).withKind(KindStore)
	}

	f.VerboseLog("listing %d of %d posts", len(posts), total)

	result := PostsResult{Total: total, Posts: make([]PostRow, len(posts))}
	for i, p := range posts {
		result.Posts[i] = PostRow{
			URI:         p.URI,
			CID:         p.CID,
			ReplyParent: p.ReplyParent,
			ReplyRoot:   p.ReplyRoot,
			IndexedAt:   p.IndexedAt.UTC().Format(time.RFC3339Nano),
		}
	}

	return f.Success(result)
}
