package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a store in a temp dir whose clock is fixed at
// testEpoch.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, _ := createTestStoreWithClock(t)
	return s
}

func createTestStoreWithClock(t *testing.T) (*Store, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(testEpoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clk))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// testPost returns a ledger row for rkey authored by did:plc:alice.
func testPost(rkey, cid string) Post {
	return Post{
		URI: fmt.Sprintf("at://did:plc:alice/app.bsky.feed.post/%s", rkey),
		CID: cid,
	}
}
