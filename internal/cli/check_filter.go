package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/roach88/skyfeed/internal/config"
	"github.com/roach88/skyfeed/internal/filter"
	"github.com/roach88/skyfeed/internal/repo"
)

// LocalAuthor is the repo DID check-filter evaluates texts as.
const LocalAuthor = "did:plc:local"

// CheckFilterOptions holds flags for the check-filter command.
type CheckFilterOptions struct {
	*RootOptions
	ConfigPath string
	Predicate  string
	Expression string
	Langs      []string
}

// FilterVerdict is the predicate decision for one text.
type FilterVerdict struct {
	Text    string `json:"text"`
	Include bool   `json:"include"`
	Error   string `json:"error,omitempty"`
}

// CheckFilterResult holds the check-filter output.
type CheckFilterResult struct {
	Predicate string          `json:"predicate"`
	Verdicts  []FilterVerdict `json:"verdicts"`
}

func (r CheckFilterResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Predicate: %s\n", r.Predicate)
	for _, v := range r.Verdicts {
		mark := "✗"
		if v.Include {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s %q\n", mark, v.Text)
		if v.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", v.Error)
		}
	}
	return b.String()
}

// NewCheckFilterCommand creates the check-filter command.
func NewCheckFilterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckFilterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check-filter <text>...",
		Short: "Run the filter predicate on sample texts",
		Long: `Run the filter predicate on sample texts without touching the relay or
the database.

The predicate comes from --config when given; --predicate and --expression
override it. Each text is evaluated as a fresh, non-reply post.

Example:
  skyfeed check-filter "tHiS iS sPoNgEbOb" "this is not"
  skyfeed check-filter --predicate cel --expression 'text.contains("go")' "go go go"
  skyfeed check-filter --config ./skyfeed.yaml --format json "hElLo"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(opts.RootOptions, cmd)
			return f.Fail(runCheckFilter(opts, args, f, cmd))
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Predicate, "predicate", filter.PredicateAlternatingCase, "predicate name (alternating-case|cel|none)")
	cmd.Flags().StringVar(&opts.Expression, "expression", "", "CEL expression for the cel predicate")
	cmd.Flags().StringSliceVar(&opts.Langs, "langs", nil, "languages to declare on the sample posts")

	return cmd
}

func runCheckFilter(opts *CheckFilterOptions, texts []string, f *OutputFormatter, cmd *cobra.Command) error {
	name, expr := opts.Predicate, opts.Expression
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath, os.Getenv)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err).withKind(KindConfig)
		}
		f.VerboseLog("loaded filter settings from %s", opts.ConfigPath)
		if !cmd.Flags().Changed("predicate") {
			name = cfg.Filter.Predicate
		}
		if !cmd.Flags().Changed("expression") {
			expr = cfg.Filter.Expression
		}
	}

	clk := clock.WallClock
	pred, err := filter.Select(name, expr, clk)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid predicate", err).withKind(KindFilter)
	}
	f.VerboseLog("evaluating %d text(s)", len(texts))

	result := CheckFilterResult{
		Predicate: describePredicate(name, pred),
		Verdicts:  make([]FilterVerdict, len(texts)),
	}
	now := clk.Now().UTC().Format(time.RFC3339)
	for i, text := range texts {
		v := FilterVerdict{Text: text}
		if pred != nil {
			post := &repo.Post{
				Type:      repo.CollectionPost,
				Text:      text,
				CreatedAt: now,
				Langs:     opts.Langs,
			}
			cand := repo.Candidate{
				URI:    repo.ATURI{Authority: LocalAuthor, Collection: repo.CollectionPost, RKey: fmt.Sprintf("check%d", i)}.String(),
				Author: LocalAuthor,
			}
			v.Include, err = pred.Include(post, cand)
			if err != nil {
				v.Include = false
				v.Error = err.Error()
			}
		}
		result.Verdicts[i] = v
	}

	return f.Success(result)
}

func describePredicate(name string, pred filter.Predicate) string {
	switch p := pred.(type) {
	case nil:
		return filter.PredicateNone + " (every post is rejected)"
	case *filter.CEL:
		return fmt.Sprintf("%s %s", filter.PredicateCEL, p.String())
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}
