package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/juju/clock"

	"github.com/roach88/skyfeed/internal/repo"
)

// Predicate decides whether a created post belongs in the feed. It runs
// after the archive and reply rules. An error rejects the post.
type Predicate interface {
	Include(post *repo.Post, c repo.Candidate) (bool, error)
}

// Func adapts a plain function to Predicate.
type Func func(post *repo.Post, c repo.Candidate) (bool, error)

// Include calls f.
func (f Func) Include(post *repo.Post, c repo.Candidate) (bool, error) {
	return f(post, c)
}

// Predicate names accepted by Select.
const (
	PredicateAlternatingCase = "alternating-case"
	PredicateCEL             = "cel"
	PredicateNone            = "none"
)

// ErrUnknownPredicate is returned by Select for names it does not know.
var ErrUnknownPredicate = errors.New("unknown predicate")

// Select resolves a configured predicate by name. expr is the CEL source
// and is only read for PredicateCEL. An empty name or PredicateNone yields
// a nil Predicate, which makes the pipeline reject every post.
func Select(name, expr string, clk clock.Clock) (Predicate, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PredicateNone:
		return nil, nil
	case PredicateAlternatingCase:
		return AlternatingCase{}, nil
	case PredicateCEL:
		p, err := NewCEL(expr, clk)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownPredicate)
	}
}
