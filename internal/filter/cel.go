package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/juju/clock"

	"github.com/roach88/skyfeed/internal/repo"
)

// ErrEmptyExpression is returned by NewCEL for a blank expression.
var ErrEmptyExpression = errors.New("empty cel expression")

// CEL is a Predicate backed by a compiled CEL expression. The expression
// must evaluate to a bool and may reference:
//
//	text          string        post text
//	langs         list(string)  declared languages
//	tags          list(string)  post tags
//	uri, cid      string        record identity
//	author        string        repo DID
//	is_reply      bool
//	created_at_ms int           createdAt in epoch millis, 0 if unparseable
//	now_ms        int           current time in epoch millis
type CEL struct {
	expr  string
	prog  cel.Program
	clock clock.Clock
}

// NewCEL compiles expr. A nil clock means the wall clock.
func NewCEL(expr string, clk clock.Clock) (*CEL, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrEmptyExpression
	}
	if clk == nil {
		clk = clock.WallClock
	}

	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("langs", cel.ListType(cel.StringType)),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("uri", cel.StringType),
		cel.Variable("cid", cel.StringType),
		cel.Variable("author", cel.StringType),
		cel.Variable("is_reply", cel.BoolType),
		cel.Variable("created_at_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("check %q: %w", expr, iss.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%q evaluates to %s, want bool", expr, checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &CEL{expr: expr, prog: prog, clock: clk}, nil
}

// String returns the source expression.
func (c *CEL) String() string {
	return c.expr
}

// Include evaluates the expression against post.
func (c *CEL) Include(post *repo.Post, cand repo.Candidate) (bool, error) {
	var createdAtMs int64
	if t, err := post.CreatedTime(); err == nil {
		createdAtMs = t.UnixMilli()
	}
	langs := post.Langs
	if langs == nil {
		langs = []string{}
	}
	tags := post.Tags
	if tags == nil {
		tags = []string{}
	}

	out, _, err := c.prog.Eval(map[string]any{
		"text":          post.Text,
		"langs":         langs,
		"tags":          tags,
		"uri":           cand.URI,
		"cid":           cand.CID,
		"author":        cand.Author,
		"is_reply":      post.IsReply(),
		"created_at_ms": createdAtMs,
		"now_ms":        c.clock.Now().UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", c.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result %T is not bool", c.expr, out.Value())
	}
	return b, nil
}
