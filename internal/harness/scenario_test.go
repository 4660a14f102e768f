package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "test.yaml", `
name: test_scenario
description: "Test scenario for validation"
filter:
  predicate: alternating-case
  ignore_reply_posts: true
commits:
  - seq: 7
    advance: 2ms
    create:
      - rkey: p1
        text: "aBcDeFg"
        age: 1h
        langs: [en]
  - seq: 8
    repo: did:plc:bob
    delete:
      - rkey: p1
assertions:
  - type: ledger_contains
    post: p1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "alternating-case", scenario.Filter.Predicate)
	assert.True(t, scenario.Filter.IgnoreReplyPosts)
	assert.Equal(t, DefaultRepo, scenario.Repo)

	require.Len(t, scenario.Commits, 2)
	first := scenario.Commits[0]
	assert.Equal(t, int64(7), first.Seq)
	assert.Equal(t, DefaultRepo, first.Repo)
	assert.Equal(t, 2*time.Millisecond, first.Advance)
	require.Len(t, first.Create, 1)
	assert.Equal(t, time.Hour, first.Create[0].Age)
	assert.Equal(t, []string{"en"}, first.Create[0].Langs)

	assert.Equal(t, "did:plc:bob", scenario.Commits[1].Repo)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: d
commits: [{seq: 1}]
assertions: [{type: ledger_count}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
commits: [{seq: 1}]
assertions: [{type: ledger_count}]
`,
			wantErr: "description is required",
		},
		{
			name: "no commits",
			content: `
name: n
description: d
assertions: [{type: ledger_count}]
`,
			wantErr: "commits list is required",
		},
		{
			name: "no assertions",
			content: `
name: n
description: d
commits: [{seq: 1}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "zero seq",
			content: `
name: n
description: d
commits: [{seq: 0}]
assertions: [{type: ledger_count}]
`,
			wantErr: "seq must be positive",
		},
		{
			name: "create without rkey",
			content: `
name: n
description: d
commits: [{seq: 1, create: [{text: hi}]}]
assertions: [{type: ledger_count}]
`,
			wantErr: "rkey is required",
		},
		{
			name: "unsupported collection",
			content: `
name: n
description: d
commits: [{seq: 1, create: [{rkey: r, collection: app.bsky.feed.repost}]}]
assertions: [{type: ledger_count}]
`,
			wantErr: "unsupported collection",
		},
		{
			name: "delete without rkey",
			content: `
name: n
description: d
commits: [{seq: 1, delete: [{collection: app.bsky.feed.post}]}]
assertions: [{type: ledger_count}]
`,
			wantErr: "rkey is required",
		},
		{
			name: "contains without post",
			content: `
name: n
description: d
commits: [{seq: 1}]
assertions: [{type: ledger_contains}]
`,
			wantErr: "post is required",
		},
		{
			name: "unknown assertion",
			content: `
name: n
description: d
commits: [{seq: 1}]
assertions: [{type: trace_contains}]
`,
			wantErr: "unknown assertion type",
		},
		{
			name: "unknown field",
			content: `
name: n
description: d
commits: [{seq: 1}]
assertion: [{type: ledger_count}]
`,
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "alpha.yaml", "")
	writeScenario(t, dir, "beta.yml", "")
	writeScenario(t, dir, "notes.txt", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	writeScenario(t, filepath.Join(dir, "nested"), "alpha_two.yaml", "")

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = FindScenarios(dir, "alpha*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = FindScenarios(dir, "[")
	assert.Error(t, err)
}

func TestPostURI(t *testing.T) {
	s := &Scenario{Repo: "did:plc:alice"}
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/p1", s.postURI("p1"))
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.post/p2", s.postURI("did:plc:bob/p2"))
	assert.Equal(t, "at://did:web:x.com/app.bsky.feed.post/p3", s.postURI("at://did:web:x.com/app.bsky.feed.post/p3"))
}
