package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/skyfeed/internal/repo"
)

// DefaultRepo is the author of commits that do not name one.
const DefaultRepo = "did:plc:alice"

// Scenario is a scripted stretch of the firehose together with the ledger
// state it should leave behind.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Filter configures the pipeline under test.
	Filter FilterSpec `yaml:"filter"`

	// Repo is the default author for commits.
	// Default: did:plc:alice
	Repo string `yaml:"repo,omitempty"`

	// Commits are applied in order.
	Commits []CommitStep `yaml:"commits"`

	// Assertions validate the final ledger and feed.
	Assertions []Assertion `yaml:"assertions"`
}

// FilterSpec mirrors the filter section of the service config.
type FilterSpec struct {
	Predicate           string `yaml:"predicate"`
	Expression          string `yaml:"expression,omitempty"`
	IgnoreArchivedPosts bool   `yaml:"ignore_archived_posts,omitempty"`
	IgnoreReplyPosts    bool   `yaml:"ignore_reply_posts,omitempty"`
}

// CommitStep is one commit from the relay.
type CommitStep struct {
	Seq  int64  `yaml:"seq"`
	Repo string `yaml:"repo,omitempty"`

	// Advance moves the clock forward before the commit is processed, so
	// posts from later commits sort newer.
	Advance time.Duration `yaml:"advance,omitempty"`

	Create []CreateStep `yaml:"create,omitempty"`
	Delete []DeleteStep `yaml:"delete,omitempty"`
}

// CreateStep creates one record.
type CreateStep struct {
	RKey string `yaml:"rkey"`

	// Collection defaults to app.bsky.feed.post.
	Collection string `yaml:"collection,omitempty"`

	Text  string   `yaml:"text,omitempty"`
	Langs []string `yaml:"langs,omitempty"`
	Tags  []string `yaml:"tags,omitempty"`

	// CreatedAt is written verbatim. When empty, the record is stamped
	// Age before the current clock time.
	CreatedAt string        `yaml:"created_at,omitempty"`
	Age       time.Duration `yaml:"age,omitempty"`

	// ReplyTo makes the post a reply to this URI (as parent and root).
	ReplyTo string `yaml:"reply_to,omitempty"`

	// Subject is the liked URI or followed DID for likes and follows.
	Subject string `yaml:"subject,omitempty"`
}

// DeleteStep deletes one record.
type DeleteStep struct {
	RKey       string `yaml:"rkey"`
	Collection string `yaml:"collection,omitempty"`
}

// Assertion validates the final ledger or feed.
type Assertion struct {
	// Type is one of:
	// - "ledger_contains": the post is in the ledger
	// - "ledger_excludes": the post is not in the ledger
	// - "ledger_count": the ledger holds exactly Count rows
	// - "feed_order": the first feed page lists Posts in this order
	Type string `yaml:"type"`

	// Post identifies a post as "<rkey>" (scenario repo) or "<did>/<rkey>".
	Post string `yaml:"post,omitempty"`

	// Count is the expected row count (ledger_count).
	Count int `yaml:"count,omitempty"`

	// Posts is the expected feed order (feed_order).
	Posts []string `yaml:"posts,omitempty"`

	// Limit is the page size for feed_order.
	// Default: 100
	Limit int `yaml:"limit,omitempty"`
}

// Assertion type constants.
const (
	AssertLedgerContains = "ledger_contains"
	AssertLedgerExcludes = "ledger_excludes"
	AssertLedgerCount    = "ledger_count"
	AssertFeedOrder      = "feed_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Repo == "" {
		scenario.Repo = DefaultRepo
	}
	for i := range scenario.Commits {
		if scenario.Commits[i].Repo == "" {
			scenario.Commits[i].Repo = scenario.Repo
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir, optionally
// restricted to names matching the glob filter.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Commits) == 0 {
		return fmt.Errorf("commits list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, c := range s.Commits {
		if c.Seq <= 0 {
			return fmt.Errorf("commits[%d]: seq must be positive", i)
		}
		if c.Advance < 0 {
			return fmt.Errorf("commits[%d]: advance must be non-negative", i)
		}
		for j, cr := range c.Create {
			if cr.RKey == "" {
				return fmt.Errorf("commits[%d].create[%d]: rkey is required", i, j)
			}
			switch cr.collection() {
			case repo.CollectionPost, repo.CollectionLike, repo.CollectionFollow:
			default:
				return fmt.Errorf("commits[%d].create[%d]: unsupported collection %q", i, j, cr.Collection)
			}
		}
		for j, d := range c.Delete {
			if d.RKey == "" {
				return fmt.Errorf("commits[%d].delete[%d]: rkey is required", i, j)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLedgerContains, AssertLedgerExcludes:
		if a.Post == "" {
			return fmt.Errorf("assertions[%d]: post is required for %s", index, a.Type)
		}
	case AssertLedgerCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for ledger_count", index)
		}
	case AssertFeedOrder:
		if a.Limit < 0 {
			return fmt.Errorf("assertions[%d]: limit must be non-negative for feed_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (c CreateStep) collection() string {
	if c.Collection == "" {
		return repo.CollectionPost
	}
	return c.Collection
}

func (d DeleteStep) collection() string {
	if d.Collection == "" {
		return repo.CollectionPost
	}
	return d.Collection
}

// postURI resolves an assertion's post reference against the default repo.
func (s *Scenario) postURI(ref string) string {
	if strings.HasPrefix(ref, "at://") {
		return ref
	}
	did, rkey := s.Repo, ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		did, rkey = ref[:i], ref[i+1:]
	}
	return repo.ATURI{Authority: did, Collection: repo.CollectionPost, RKey: rkey}.String()
}
