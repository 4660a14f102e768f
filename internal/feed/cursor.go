package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/skyfeed/internal/store"
)

// EOF is the cursor returned once the feed is exhausted.
const EOF = "eof"

const cursorSep = "::"

// ErrMalformedCursor is returned for cursors that are not "eof" and not
// "<millis>::<cid>".
var ErrMalformedCursor = errors.New("malformed cursor")

// EncodeCursor renders the position of p in feed order.
func EncodeCursor(p store.Post) string {
	return strconv.FormatInt(p.IndexedAt.UnixMilli(), 10) + cursorSep + p.CID
}

// DecodeCursor parses a "<millis>::<cid>" cursor. It does not accept EOF;
// callers check for it first.
func DecodeCursor(s string) (store.FeedCursor, error) {
	parts := strings.Split(s, cursorSep)
	if len(parts) != 2 {
		return store.FeedCursor{}, fmt.Errorf("%q: %w", s, ErrMalformedCursor)
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return store.FeedCursor{}, fmt.Errorf("%q: %w", s, ErrMalformedCursor)
	}
	return store.FeedCursor{IndexedAt: ms, CID: parts[1]}, nil
}
