package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/skyfeed/internal/feed"
)

// AssertionError is returned when an assertion fails.
// It carries the ledger so failures can be read without rerunning.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Ledger   []LedgerRow // Final ledger for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nLedger:\n")
	if len(e.Ledger) == 0 {
		fmt.Fprintf(&buf, "  (empty)\n")
	}
	for i, row := range e.Ledger {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, row.URI)
	}

	return buf.String()
}

func ledgerURIs(rows []LedgerRow) []string {
	uris := make([]string, len(rows))
	for i, r := range rows {
		uris[i] = r.URI
	}
	return uris
}

func assertLedgerContains(s *Scenario, result *Result, a Assertion) error {
	uri := s.postURI(a.Post)
	if slices.Contains(ledgerURIs(result.Ledger), uri) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLedgerContains,
		Expected: uri + " in ledger",
		Actual:   "not found",
		Ledger:   result.Ledger,
	}
}

func assertLedgerExcludes(s *Scenario, result *Result, a Assertion) error {
	uri := s.postURI(a.Post)
	if !slices.Contains(ledgerURIs(result.Ledger), uri) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLedgerExcludes,
		Expected: uri + " not in ledger",
		Actual:   "found",
		Ledger:   result.Ledger,
	}
}

func assertLedgerCount(result *Result, a Assertion) error {
	if len(result.Ledger) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertLedgerCount,
		Expected: fmt.Sprintf("%d rows", a.Count),
		Actual:   fmt.Sprintf("%d rows", len(result.Ledger)),
		Ledger:   result.Ledger,
	}
}

// assertFeedOrder reads the first feed page through the query engine and
// compares it with the expected order.
func assertFeedOrder(ctx context.Context, s *Scenario, h *Harness, result *Result, a Assertion) error {
	limit := a.Limit
	if limit == 0 {
		limit = feed.MaxLimit
	}

	sk, err := feed.New(h.store).Page(ctx, "", limit)
	if err != nil {
		return fmt.Errorf("feed_order: %w", err)
	}

	got := make([]string, len(sk.Feed))
	for i, item := range sk.Feed {
		got[i] = item.Post
	}
	want := make([]string, len(a.Posts))
	for i, p := range a.Posts {
		want[i] = s.postURI(p)
	}

	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFeedOrder,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Ledger:   result.Ledger,
	}
}

// evaluateAssertions runs every assertion and collects failure messages.
func evaluateAssertions(ctx context.Context, s *Scenario, h *Harness, result *Result) []string {
	var errs []string

	for i, a := range s.Assertions {
		var err error

		switch a.Type {
		case AssertLedgerContains:
			err = assertLedgerContains(s, result, a)
		case AssertLedgerExcludes:
			err = assertLedgerExcludes(s, result, a)
		case AssertLedgerCount:
			err = assertLedgerCount(result, a)
		case AssertFeedOrder:
			err = assertFeedOrder(ctx, s, h, result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
