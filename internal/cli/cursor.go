package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/skyfeed/internal/store"
)

// CursorOptions holds flags shared by the cursor subcommands.
type CursorOptions struct {
	*RootOptions
	Database string
	Service  string
}

// CursorResult is the checkpoint state for one service.
type CursorResult struct {
	Service string `json:"service"`
	Cursor  *int64 `json:"cursor"`
	Deleted bool   `json:"deleted,omitempty"`
}

func (r CursorResult) String() string {
	switch {
	case r.Deleted:
		return fmt.Sprintf("Deleted checkpoint for %s\n", r.Service)
	case r.Cursor == nil:
		return fmt.Sprintf("No checkpoint for %s\n", r.Service)
	default:
		return fmt.Sprintf("%s: %d\n", r.Service, *r.Cursor)
	}
}

// NewCursorCommand creates the cursor command and its subcommands.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CursorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or delete the stream checkpoint",
		Long: `Inspect or delete the firehose checkpoint stored for a service.

Deleting the checkpoint makes the next serve start from the live head of
the stream instead of resuming.

Example:
  skyfeed cursor show --db ./feed_database.db --service did:web:feed.example.com
  skyfeed cursor delete --db ./feed_database.db --service did:web:feed.example.com`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.Service, "service", "", "service DID the checkpoint belongs to (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("service")

	cmd.AddCommand(&cobra.Command{
		Use:           "show",
		Short:         "Print the checkpointed sequence number",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts.RootOptions, cmd)
			return f.Fail(runCursorShow(opts, f, cmd))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete",
		Short:         "Delete the checkpoint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts.RootOptions, cmd)
			return f.Fail(runCursorDelete(opts, f, cmd))
		},
	})

	return cmd
}

func runCursorShow(opts *CursorOptions, f *OutputFormatter, cmd *cobra.Command) error {
	st, err := openExisting(f, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	cursor, ok, err := st.GetCursor(cmd.Context(), opts.Service)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read checkpoint", err).withKind(KindStore)
	}

	f.VerboseLog("checkpoint for %s found: %t", opts.Service, ok)

	result := CursorResult{Service: opts.Service}
	if ok {
		result.Cursor = &cursor
	}
	return f.Success(result)
}

func runCursorDelete(opts *CursorOptions, f *OutputFormatter, cmd *cobra.Command) error {
	st, err := openExisting(f, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	deleted, err := st.DeleteCursor(cmd.Context(), opts.Service)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to delete checkpoint", err).withKind(KindStore)
	}
	return f.Success(CursorResult{
		Service: opts.Service,
		Deleted: deleted,
	})
}

// openExisting opens a database that must already exist. Inspection
// commands never create one.
func openExisting(f *OutputFormatter, path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err).withKind(KindStore)
	}
	f.VerboseLog("opening database %s", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).withKind(KindStore)
	}
	return st, nil
}
